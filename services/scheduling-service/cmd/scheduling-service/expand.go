package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/recurrence"
	"github.com/spf13/cobra"
)

func expandCmd() *cobra.Command {
	var (
		start       string
		rawRule     string
		frequency   string
		interval    int
		days        string
		endDate     string
		occurrences int
		timezone    string
	)
	cmd := &cobra.Command{
		Use:   "expand",
		Short: "Print the occurrence starts a recurrence rule produces",
		Example: `  scheduling-service expand --start 2025-03-03T09:00:00Z --frequency weekly --days 1,3 --occurrences 4
  scheduling-service expand --start 2025-01-31T09:00:00Z --rule '{"frequency":"monthly","interval":1,"occurrences":3}'`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			first, err := time.Parse(time.RFC3339, start)
			if err != nil {
				return fmt.Errorf("--start: %w", err)
			}
			loc := time.UTC
			if timezone != "" {
				if loc, err = time.LoadLocation(timezone); err != nil {
					return fmt.Errorf("--tz: %w", err)
				}
				first = first.In(loc)
			}

			var rule recurrence.Rule
			if rawRule != "" {
				if err := json.Unmarshal([]byte(rawRule), &rule); err != nil {
					return fmt.Errorf("--rule: %w", err)
				}
			} else {
				rule = recurrence.Rule{Frequency: recurrence.Frequency(frequency), Interval: interval}
				if rule.DaysOfWeek, err = parseDays(days); err != nil {
					return err
				}
				if endDate != "" {
					end, err := time.Parse(time.RFC3339, endDate)
					if err != nil {
						return fmt.Errorf("--end-date: %w", err)
					}
					rule.EndDate = &end
				}
				if occurrences > 0 {
					rule.Occurrences = &occurrences
				}
			}

			starts, err := recurrence.Expand(first, rule)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, s := range starts {
				fmt.Fprintln(out, s.In(loc).Format(time.RFC3339))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "first occurrence start (RFC3339)")
	cmd.Flags().StringVar(&rawRule, "rule", "", "rule as stored JSON; overrides the individual rule flags")
	cmd.Flags().StringVar(&frequency, "frequency", "weekly", "daily, weekly or monthly")
	cmd.Flags().IntVar(&interval, "interval", 1, "repeat every N periods")
	cmd.Flags().StringVar(&days, "days", "", "weekly days as 0-6 (Sunday=0), comma separated")
	cmd.Flags().StringVar(&endDate, "end-date", "", "last allowed start (RFC3339)")
	cmd.Flags().IntVar(&occurrences, "occurrences", 0, "stop after N occurrences")
	cmd.Flags().StringVar(&timezone, "tz", "", "IANA zone to expand and print in")
	_ = cmd.MarkFlagRequired("start")
	return cmd
}

func parseDays(raw string) ([]int, error) {
	var days []int
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("--days: %q is not a weekday number", part)
		}
		days = append(days, d)
	}
	return days, nil
}
