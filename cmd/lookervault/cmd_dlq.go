package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/z3z1ma/lookervault/internal/content"
)

type dlqArgs struct {
	restoreArgs
	SessionID string `long:"session" required:"true" description:"Restoration session ID"`
}

type cmdDLQList struct {
	dlqArgs
	Type string `long:"type" description:"Restrict to one content type"`
}

func (c *cmdDLQList) Execute(_ []string) error {
	ctx := context.Background()
	o, closeFn, err := c.newOrchestrator(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	var ctPtr *content.Type
	if c.Type != "" {
		ct, ok := content.ParseType(c.Type)
		if !ok {
			return newCLIError(exitValidation, "parsing --type", fmt.Errorf("unknown content type %q", c.Type))
		}
		ctPtr = &ct
	}

	items, err := o.ListDLQ(ctx, c.SessionID, ctPtr)
	if err != nil {
		return newCLIError(exitGeneral, "listing DLQ", err)
	}

	if c.JSON {
		b, _ := json.MarshalIndent(items, "", "  ")
		fmt.Println(string(b))
		return nil
	}
	for _, it := range items {
		fmt.Printf("%d\t%s\t%s\tretries=%d\t%s\n", it.ID, it.ContentType, it.ContentID, it.RetryCount, it.ErrorMessage)
	}
	return nil
}

type cmdDLQShow struct {
	dlqArgs
	DLQID int64 `long:"dlq-id" required:"true" description:"Dead-letter queue row ID"`
}

func (c *cmdDLQShow) Execute(_ []string) error {
	ctx := context.Background()
	o, closeFn, err := c.newOrchestrator(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	item, found, err := o.ShowDLQ(ctx, c.SessionID, c.DLQID)
	if err != nil {
		return newCLIError(exitGeneral, "loading DLQ entry", err)
	}
	if !found {
		return newCLIError(exitValidation, "DLQ entry not found", fmt.Errorf("%d", c.DLQID))
	}

	if c.JSON {
		b, _ := json.MarshalIndent(item, "", "  ")
		fmt.Println(string(b))
		return nil
	}
	fmt.Printf("id=%d type=%s content=%s retries=%d error_type=%s\nmessage: %s\n",
		item.ID, item.ContentType, item.ContentID, item.RetryCount, item.ErrorType, item.ErrorMessage)
	return nil
}

type cmdDLQRetry struct {
	dlqArgs
	DLQID int64 `long:"dlq-id" required:"true" description:"Dead-letter queue row ID"`
}

func (c *cmdDLQRetry) Execute(_ []string) error {
	ctx := context.Background()
	o, closeFn, err := c.newOrchestrator(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	result, err := o.RetryDLQ(ctx, c.SessionID, c.DLQID, c.toConfig())
	if err != nil {
		return newCLIError(exitGeneral, "retry failed", err)
	}
	fmt.Printf("retried %s -> %s (created=%v)\n", result.ID, result.DestinationID, result.Created)
	return nil
}

type cmdDLQClear struct {
	dlqArgs
}

func (c *cmdDLQClear) Execute(_ []string) error {
	ctx := context.Background()
	o, closeFn, err := c.newOrchestrator(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	n, err := o.ClearDLQ(ctx, c.SessionID)
	if err != nil {
		return newCLIError(exitGeneral, "clear failed", err)
	}
	fmt.Printf("cleared %d DLQ entries\n", n)
	return nil
}
