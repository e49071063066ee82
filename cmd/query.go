package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var queryCmd = &cobra.Command{
	Use:   "query <stop_id>",
	Short: "Prints upcoming arrivals at a stop as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  query,
}

var (
	queryRoute string
	queryTable bool
)

func init() {
	queryCmd.Flags().StringVarP(&queryRoute, "route", "r", "", "Route ID, e.g. 1 or A")
	queryCmd.Flags().BoolVarP(&queryTable, "table", "t", false, "Print a table instead of JSON")
	queryCmd.MarkFlagRequired("route")
}

func query(cmd *cobra.Command, args []string) error {
	_, manager, logger, _, err := loadManager()
	if err != nil {
		return err
	}

	// Queries don't wait for the schedule. A one-off query should.
	if _, err := manager.Store.Load(cmd.Context()); err != nil {
		logger.Warn().Err(err).Msg("static schedule unavailable, scheduled times omitted")
	}

	resp, err := manager.Arrivals(cmd.Context(), args[0], queryRoute)
	if err != nil {
		return err
	}

	if queryTable {
		fmt.Printf("%s (%s), route %s, as of %s\n", resp.StopName, resp.StopID, resp.RouteID, resp.GeneratedAt)
		for _, a := range resp.Arrivals {
			delay := a.Delay.String()
			if !a.Delay.IsKnown() {
				delay = "-"
			}
			fmt.Printf("%-4s %-28s %-9s %-9s %-14s %3d min\n",
				a.Route, a.Destination, a.ScheduledArrival, a.ActualArrival, delay, a.CountdownMinutes)
		}
		return nil
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}
