// Command distjoin joins two tables over a group of in-process workers.
//
//	distjoin join --left orders.csv --right customers.parquet \
//		--left-key customer_id --right-key id --out joined.csv --workers 4
//	distjoin demo --rows 10000 --balanced
package main

import (
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
