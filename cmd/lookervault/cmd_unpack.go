package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/z3z1ma/lookervault/internal/content"
	"github.com/z3z1ma/lookervault/internal/errkind"
	"github.com/z3z1ma/lookervault/internal/pack"
)

type cmdUnpack struct {
	storeFlags
	OutputDir      string   `long:"output-dir" required:"true" description:"Directory to write the YAML tree into"`
	Strategy       string   `long:"strategy" default:"full" choice:"full" choice:"folder" description:"Layout strategy"`
	Types          []string `long:"type" description:"Content type(s) to unpack (default: every restorable type plus EXPLORE)"`
	IncludeDeleted bool     `long:"include-deleted" description:"Include soft-deleted rows"`
	JSON           bool     `long:"json" description:"Emit structured JSON output"`
}

func (c *cmdUnpack) Execute(_ []string) error {
	ctx := context.Background()
	log := logger()

	s, err := openStore(ctx, c.storeFlags, log)
	if err != nil {
		return err
	}
	defer s.Close()

	types, err := parseTypes(c.Types)
	if err != nil {
		return newCLIError(exitValidation, "parsing --type", err)
	}

	manifest, err := pack.Unpack(ctx, s, content.NewCodec(), pack.UnpackConfig{
		OutputDir:      c.OutputDir,
		Strategy:       pack.Strategy(strings.ToLower(c.Strategy)),
		Types:          types,
		IncludeDeleted: c.IncludeDeleted,
	})
	if err != nil {
		if errkind.Classify(err) == errkind.Dependency {
			return newCLIError(exitCircularFolder, "circular folder reference", err)
		}
		return newCLIError(exitGeneral, "unpack failed", err)
	}

	if c.JSON {
		b, _ := json.MarshalIndent(manifest, "", "  ")
		fmt.Println(string(b))
		return nil
	}
	fmt.Printf("unpacked %d items to %s\n", manifest.TotalItems, c.OutputDir)
	return nil
}
