package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/erazemk/posodi/internal/api"
	"github.com/erazemk/posodi/internal/model"
)

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

func printKV(w io.Writer, rows [][2]string) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, row := range rows {
		_, _ = fmt.Fprintf(tw, "%s\t%s\n", row[0], row[1])
	}
	_ = tw.Flush()
}

func printTable(w io.Writer, headers []string, rows [][]string) {
	if len(rows) == 0 {
		_, _ = fmt.Fprintln(w, "nothing here yet")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, strings.Join(headers, "\t"))
	for _, row := range rows {
		_, _ = fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	_ = tw.Flush()
}

func ago(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.Time(t)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func printProfile(w io.Writer, p model.Profile) {
	printKV(w, [][2]string{
		{"user", p.UserID},
		{"name", p.DisplayName},
		{"neighborhood", p.Neighborhood},
		{"joined", ago(p.CreatedAt)},
		{"passphrase", fmt.Sprint(p.HasPassphrase)},
	})
}

func printItems(w io.Writer, items []model.Item) {
	rows := make([][]string, 0, len(items))
	for _, it := range items {
		rows = append(rows, []string{it.ID, it.Name, it.OwnerName, it.Status, orDash(it.Terms), ago(it.CreatedAt)})
	}
	printTable(w, []string{"ID", "NAME", "OWNER", "STATUS", "TERMS", "SHARED"}, rows)
}

func printRequests(w io.Writer, reqs []model.Request) {
	rows := make([][]string, 0, len(reqs))
	for _, r := range reqs {
		rows = append(rows, []string{
			r.ID,
			r.ItemName,
			r.BorrowerName,
			r.BorrowDate + " → " + r.ReturnDate,
			r.Status,
			ago(r.RequestedAt),
		})
	}
	printTable(w, []string{"ID", "ITEM", "BORROWER", "DATES", "STATUS", "REQUESTED"}, rows)
}

// printView renders one live-feed frame.
func printView(w io.Writer, view string, payload json.RawMessage) error {
	var frame map[string]json.RawMessage
	if err := json.Unmarshal(payload, &frame); err != nil {
		return fmt.Errorf("decoding feed frame: %w", err)
	}
	data, ok := frame[view]
	if !ok {
		return nil
	}

	_, _ = fmt.Fprintf(w, "\n%s @ %s\n", view, time.Now().Format(time.TimeOnly))
	switch view {
	case api.ViewBrowse, api.ViewInventory:
		var items []model.Item
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		printItems(w, items)
	default:
		var reqs []model.Request
		if err := json.Unmarshal(data, &reqs); err != nil {
			return err
		}
		printRequests(w, reqs)
	}
	return nil
}
