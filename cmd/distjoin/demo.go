package main

import (
	"context"
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/spf13/cobra"

	"github.com/paveg/distjoin"
	"github.com/paveg/distjoin/internal/dataframe"
	"github.com/paveg/distjoin/internal/series"
)

const (
	defaultDemoRows   = 1000
	customersPerOrder = 10
)

type demoFlags struct {
	rows       int
	balanced   bool
	replicated bool
}

func newDemoCommand(root *rootFlags) *cobra.Command {
	flags := &demoFlags{}
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Join generated orders with generated customers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDemo(cmd, root, flags)
		},
	}
	f := cmd.Flags()
	f.IntVar(&flags.rows, "rows", defaultDemoRows, "number of orders")
	f.BoolVar(&flags.balanced, "balanced", false, "rebalance the output into even blocks")
	f.BoolVar(&flags.replicated, "replicated", false, "replicate customers on every worker instead of shuffling them")
	return cmd
}

// demoTables builds orders(order_id, customer_id, amount) and
// customers(id, name, region) with one customer per customersPerOrder
// orders. Every tenth order refers to a customer that does not exist.
func demoTables(rows int, mem memory.Allocator) (orders, customers *dataframe.DataFrame) {
	nCustomers := max(rows/customersPerOrder, 1)
	regions := []string{"north", "south", "east", "west"}

	orderIDs := make([]int64, rows)
	customerIDs := make([]int64, rows)
	amounts := make([]float64, rows)
	for i := range rows {
		orderIDs[i] = int64(i)
		customerIDs[i] = int64(i*7) % int64(nCustomers)
		if i%10 == 9 {
			customerIDs[i] = int64(nCustomers + i)
		}
		amounts[i] = float64(i%100) + 0.99
	}
	ids := make([]int64, nCustomers)
	names := make([]string, nCustomers)
	customerRegions := make([]string, nCustomers)
	for i := range nCustomers {
		ids[i] = int64(i)
		names[i] = fmt.Sprintf("customer_%d", i)
		customerRegions[i] = regions[i%len(regions)]
	}

	orders = dataframe.New(
		series.New("order_id", orderIDs, mem),
		series.New("customer_id", customerIDs, mem),
		series.New("amount", amounts, mem),
	)
	customers = dataframe.New(
		series.New("id", ids, mem),
		series.New("name", names, mem),
		series.New("region", customerRegions, mem),
	)
	return orders, customers
}

func runDemo(cmd *cobra.Command, root *rootFlags, flags *demoFlags) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	c, _, done, err := root.cluster()
	if err != nil {
		return err
	}
	defer done()
	mem := memory.DefaultAllocator
	w := cmd.OutOrStdout()

	orders, customers := demoTables(flags.rows, mem)
	defer orders.Release()
	defer customers.Release()
	fmt.Fprintf(w, "orders: %d rows, customers: %d rows, workers: %d\n", orders.Len(), customers.Len(), c.Workers())

	left, err := distjoin.Split(orders, c.Workers(), distjoin.Even, mem)
	if err != nil {
		return err
	}
	defer left.Release()
	customerLayout := distjoin.Even
	if flags.replicated {
		customerLayout = distjoin.Replicated
	}
	right, err := distjoin.Split(customers, c.Workers(), customerLayout, mem)
	if err != nil {
		return err
	}
	defer right.Release()

	opts := distjoin.JoinOptions{
		LeftKey:  "customer_id",
		RightKey: "id",
		Columns:  []string{"order_id", "amount", "name", "region"},
		Balanced: flags.balanced,
	}
	plan, err := c.Explain(left, right, opts)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "\nplan:\n%s\n", plan)

	start := time.Now()
	out, err := c.Join(ctx, left, right, opts)
	if err != nil {
		return err
	}
	defer out.Release()

	fmt.Fprintf(w, "joined %d rows in %s, layout %s\n", out.Len(), time.Since(start).Round(time.Microsecond), out.Layout)
	for rank, part := range out.Parts {
		fmt.Fprintf(w, "  worker %d: %d rows\n", rank, part.Len())
	}
	return nil
}
