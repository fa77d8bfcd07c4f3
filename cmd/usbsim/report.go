package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"github.com/ardnew/fsusb/internal/sim"
)

var (
	passLabel = color.New(color.Bold, color.FgHiGreen).SprintFunc()
	failLabel = color.New(color.Bold, color.FgHiRed).SprintFunc()
	dimLabel  = color.New(color.Faint).SprintFunc()
)

// render prints one table per report followed by a summary line and
// returns the number of failed scenarios.
func render(w io.Writer, reports []*sim.Report, trace bool) int {
	failed := 0
	for _, rep := range reports {
		fmt.Fprintf(w, "%s %s\n", verdict(rep.Passed()), rep.Scenario)

		table := tablewriter.NewWriter(w)
		table.Header("#", "Step", "Op", "Result", "Detail", "Time")
		for _, res := range rep.Results {
			_ = table.Append([]string{
				strconv.Itoa(res.Step),
				res.Name,
				res.Op,
				verdict(res.Passed),
				res.Detail,
				res.Elapsed.Round(time.Microsecond).String(),
			})
		}
		_ = table.Render()

		if rep.Err != nil {
			fmt.Fprintf(w, "  %s %v\n", failLabel("error:"), rep.Err)
		}
		if trace {
			for _, ev := range rep.Trace {
				fmt.Fprintf(w, "  %s\n", dimLabel(ev.String()))
			}
		}
		if !rep.Passed() {
			failed++
		}
		fmt.Fprintln(w)
	}

	summary := fmt.Sprintf("%d scenarios, %d failed", len(reports), failed)
	if failed > 0 {
		fmt.Fprintln(w, failLabel(summary))
	} else {
		fmt.Fprintln(w, passLabel(summary))
	}
	return failed
}

func verdict(ok bool) string {
	if ok {
		return passLabel("PASS")
	}
	return failLabel("FAIL")
}
