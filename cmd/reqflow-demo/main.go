// Command reqflow-demo wires a handler, a few priority-ordered requests,
// and a subsequent chain end to end, printing each lifecycle event as it
// fires. It exists to exercise the public API, not as a production tool.
package main

import (
	"context"
	"fmt"
	"time"

	"github.com/reqflow/reqflow"
)

func main() {
	h := reqflow.NewParallelHandler(reqflow.WithMaxDegreeOfParallelism(2))
	defer func() {
		h.Cancel()
		h.Dispose()
	}()

	fetchReport := reqflow.NewOwnRequest(func(ctx context.Context) (bool, error) {
		fmt.Println("fetch: downloading report")
		time.Sleep(50 * time.Millisecond)
		return true, nil
	}, reqflow.WithPriority(reqflow.PriorityLow), reqflow.WithHandler(h), reqflow.WithAutoStart(false))

	archiveReport := reqflow.NewOwnRequest(func(ctx context.Context) (bool, error) {
		fmt.Println("archive: compressing and storing report")
		return true, nil
	}, reqflow.WithHandler(h), reqflow.WithAutoStart(false))
	_ = fetchReport.TrySetSubsequent(archiveReport)

	healthCheck := reqflow.NewOwnRequest(func(ctx context.Context) (bool, error) {
		fmt.Println("healthcheck: pinging upstream")
		return true, nil
	}, reqflow.WithPriority(reqflow.PriorityHigh), reqflow.WithHandler(h))

	fetchReport.SetEvents(reqflow.Events{
		Completed: func(any) { fmt.Println("fetch: completed") },
	})
	archiveReport.SetEvents(reqflow.Events{
		Completed: func(any) { fmt.Println("archive: completed, chain done") },
	})
	healthCheck.SetEvents(reqflow.Events{
		Completed: func(any) { fmt.Println("healthcheck: completed") },
	})

	batch := reqflow.NewContainer[*reqflow.OwnRequest]()
	_ = batch.AddRange([]*reqflow.OwnRequest{fetchReport, healthCheck})
	_ = batch.Start()

	select {
	case <-batch.Done():
	case <-time.After(5 * time.Second):
		fmt.Println("demo: timed out waiting for batch completion")
	}
	<-archiveReport.Done()
}
