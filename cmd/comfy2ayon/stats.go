package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/richinsley/comfy2ayon/comfy"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show ComfyUI system stats and queue",
	RunE:  runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.close()

	c := comfy.NewComfyClient(a.cfg.Comfy, nil, a.log)
	ctx := cmd.Context()

	stats, err := c.GetSystemStats(ctx)
	if err != nil {
		return err
	}
	fmt.Println("System Stats:")
	fmt.Printf("\tOS: %s\n", stats.System.OS)
	fmt.Printf("\tPython Version: %s\n", stats.System.PythonVersion)
	if stats.System.ComfyUIVersion != "" {
		fmt.Printf("\tComfyUI Version: %s\n", stats.System.ComfyUIVersion)
	}
	fmt.Println("\tDevices:")
	for _, dev := range stats.Devices {
		fmt.Printf("\t\t%d: %s (%s) VRAM %d/%d MiB free\n",
			dev.Index, dev.Name, dev.Type, dev.VRAMFree>>20, dev.VRAMTotal>>20)
	}

	queue, err := c.GetQueueExecutionInfo(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Queue remaining: %d\n", queue.ExecInfo.QueueRemaining)

	nodes, err := c.GetObjectInfoNames(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Available nodes: %d\n", len(nodes))
	return nil
}
