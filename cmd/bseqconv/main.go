// Command bseqconv converts between BSEQ binary sequence files (.brseq) and
// their TSEQ textual listing (.rseq), dispatching by extension.
package main

import (
	"flag"
	"log"

	"github.com/rseqtools/bseq"
)

func main() {
	flag.Parse()
	for _, path := range flag.Args() {
		if err := bseq.Convert(path); err != nil {
			log.Fatalf("%+v", err)
		}
	}
}
