package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fatih/color"

	"github.com/z3z1ma/lookervault/internal/content"
	"github.com/z3z1ma/lookervault/internal/pack"
)

var (
	green = color.New(color.FgGreen).SprintFunc()
	red   = color.New(color.FgRed).SprintFunc()
)

type cmdPack struct {
	storeFlags
	InputDir string `long:"input-dir" required:"true" description:"Directory containing a previously unpacked YAML tree"`
	Force    bool   `long:"force" description:"Mark rows absent from the export as deleted"`
	DryRun   bool   `long:"dry-run" description:"Validate and report without writing"`
	JSON     bool   `long:"json" description:"Emit structured JSON output"`
}

func (c *cmdPack) Execute(_ []string) error {
	ctx := context.Background()
	log := logger()

	s, err := openStore(ctx, c.storeFlags, log)
	if err != nil {
		return err
	}
	defer s.Close()

	report, err := pack.Pack(ctx, s, content.NewCodec(), pack.PackConfig{
		InputDir: c.InputDir,
		Force:    c.Force,
		DryRun:   c.DryRun,
	})
	if err != nil {
		return newCLIError(exitTransactionFailed, "pack transaction failed", err)
	}

	if c.JSON {
		b, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(b))
	} else {
		fmt.Printf("%s unchanged=%d modified=%d new=%d errors=%d new_queries=%d deleted=%d\n",
			green("pack"), report.Unchanged(), report.Modified(), report.New(), len(report.Errors()), report.NewQueriesCreated, report.DeletedCount)
		for _, e := range report.Errors() {
			fmt.Printf("  %s %s: %v\n", red("error"), e.Path, e.Err)
		}
	}

	if len(report.Errors()) > 0 {
		return newCLIError(exitValidation, "pack had per-file validation errors", fmt.Errorf("%d file(s) failed validation", len(report.Errors())))
	}
	return nil
}
