package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/verte-zerg/serialplot/internal/source"
)

var listPorts = source.ListPorts

func newPortsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "List detected serial ports",
		Args:  cobra.NoArgs,
		RunE:  runPortsCmd,
	}
}

func runPortsCmd(cmd *cobra.Command, _ []string) error {
	ports, err := listPorts()
	if err != nil {
		return fmt.Errorf("failed to list ports: %w", err)
	}
	if len(ports) == 0 {
		logErrf("No serial ports found.\n")
		return nil
	}
	for _, line := range formatTable(portHeaders, portRows(ports)) {
		if _, err := fmt.Fprintln(cmd.OutOrStdout(), line); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
	}
	return nil
}

var portHeaders = []string{"PORT", "VID:PID", "PRODUCT", "SERIAL"}

func portRows(ports []source.PortInfo) [][]string {
	rows := make([][]string, 0, len(ports))
	for _, p := range ports {
		usb := "-"
		if p.IsUSB {
			usb = p.VID + ":" + p.PID
		}
		rows = append(rows, []string{p.Name, usb, orDash(p.Product), orDash(p.SerialNumber)})
	}
	return rows
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
