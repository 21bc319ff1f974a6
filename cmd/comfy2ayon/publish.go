package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/richinsley/comfy2ayon/publish"
)

var publishCmd = &cobra.Command{
	Use:   "publish [flags] FILE...",
	Short: "Publish files as a new version of a product",
	Long: `Publish groups FILE arguments into frame sequences and single files, copies
them into the project's publish area and registers one version with a
representation per group.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPublish,
}

func init() {
	f := publishCmd.Flags()
	f.String("folder", "", "folder path, defaults to the launch context")
	f.String("task", "", "task name, defaults to the launch context")
	f.String("product", "", "product name, solved from the product name profiles when empty")
	f.String("type", "", "product type")
	f.String("variant", "", "variant used to solve the product name")
	f.String("description", "", "product description")
	f.Bool("json", false, "print the publish record as JSON")
}

func runPublish(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.close()
	if err := requireProject(a.cfg); err != nil {
		return err
	}

	f := cmd.Flags()
	folder, _ := f.GetString("folder")
	task, _ := f.GetString("task")
	product, _ := f.GetString("product")
	productType, _ := f.GetString("type")
	variant, _ := f.GetString("variant")
	description, _ := f.GetString("description")
	asJSON, _ := f.GetBool("json")

	files := make([]string, len(args))
	for i, arg := range args {
		if files[i], err = filepath.Abs(arg); err != nil {
			return err
		}
	}

	ctx := cmd.Context()
	pcfg := publish.ConfigFrom(*a.cfg)
	publisher := publish.NewPublisher(a.svc, pcfg, a.log)
	node := publish.NewNodePublisher(a.svc, publisher, pcfg, nil, a.log)

	target := node.Target(publish.OutputTarget{FolderPath: folder, TaskName: task, ProductType: productType, Variant: variant})
	if product == "" {
		product = node.ProductNamePrefix(ctx, target)
	}

	bar := progressbar.Default(int64(len(files)), "publishing "+product)
	publisher.OnCopy = func(_, dst string) {
		bar.Describe(filepath.Base(dst))
		_ = bar.Add(1)
	}

	res := publisher.Run(ctx, publish.Request{
		ProjectName: target.Project,
		FolderPath:  target.FolderPath,
		TaskName:    target.TaskName,
		ProductName: product,
		ProductType: target.ProductType,
		Files:       files,
		Description: description,
	})
	_ = bar.Finish()

	switch r := res.(type) {
	case publish.Success:
		if asJSON {
			return json.NewEncoder(os.Stdout).Encode(r.Record)
		}
		fmt.Printf("Published %s v%03d (%d files)\n", product, r.Record.Version, len(r.Record.Paths))
		return nil
	case publish.Failure:
		if r.Partial != nil {
			fmt.Fprintf(os.Stderr, "Partial publish: %d files copied, version %q\n", len(r.Partial.Paths), r.Partial.VersionID)
		}
		return r
	}
	return nil
}
