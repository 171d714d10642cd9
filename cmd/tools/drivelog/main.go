// Command drivelog renders an HTML chart page from a recorded drive session:
// the steer/throttle command series plus the stop verdict, read either from
// the SQLite event store or from a JSONL session log.
package main

import (
	"bufio"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	_ "modernc.org/sqlite"
)

var (
	dbFile    = flag.String("db", "", "SQLite event database to read")
	sessionID = flag.String("session", "", "Session id to chart (default: most recent)")
	jsonlFile = flag.String("jsonl", "", "JSONL session log to read instead of the database")
	outFile   = flag.String("out", "drivelog.html", "Output HTML file")
)

// event is one decoded log record, source-independent.
type event struct {
	TS     int64
	Name   string
	Fields map[string]any
}

func main() {
	flag.Parse()

	var (
		evs []event
		err error
	)
	switch {
	case *jsonlFile != "":
		evs, err = readJSONL(*jsonlFile)
	case *dbFile != "":
		evs, err = readSQLite(*dbFile, *sessionID)
	default:
		log.Fatal("one of -db or -jsonl is required")
	}
	if err != nil {
		log.Fatalf("Failed to read events: %v", err)
	}
	if len(evs) == 0 {
		log.Fatal("No events found")
	}
	sort.Slice(evs, func(i, j int) bool { return evs[i].TS < evs[j].TS })

	page := components.NewPage()
	page.AddCharts(commandChart(evs), stopChart(evs))

	f, err := os.Create(*outFile)
	if err != nil {
		log.Fatalf("Failed to create %s: %v", *outFile, err)
	}
	defer f.Close()
	if err := page.Render(f); err != nil {
		log.Fatalf("Failed to render charts: %v", err)
	}
	log.Printf("Wrote %d events to %s", len(evs), *outFile)
}

func readJSONL(path string) ([]event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var evs []event
	scan := bufio.NewScanner(f)
	for scan.Scan() {
		var rec map[string]any
		if err := json.Unmarshal(scan.Bytes(), &rec); err != nil {
			log.Printf("Skipping malformed line: %v", err)
			continue
		}
		ts, _ := rec["ts"].(float64)
		name, _ := rec["event"].(string)
		delete(rec, "ts")
		delete(rec, "event")
		evs = append(evs, event{TS: int64(ts), Name: name, Fields: rec})
	}
	return evs, scan.Err()
}

func readSQLite(path, session string) ([]event, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	if session == "" {
		row := db.QueryRow("SELECT session_id FROM events ORDER BY ts DESC LIMIT 1")
		if err := row.Scan(&session); err != nil {
			return nil, fmt.Errorf("no sessions in %s: %w", path, err)
		}
		log.Printf("Charting latest session %s", session)
	}

	rows, err := db.Query(
		"SELECT ts, name, fields FROM events WHERE session_id = ? ORDER BY ts", session)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var evs []event
	for rows.Next() {
		var (
			e       event
			payload string
		)
		if err := rows.Scan(&e.TS, &e.Name, &payload); err != nil {
			return nil, err
		}
		if payload != "" {
			if err := json.Unmarshal([]byte(payload), &e.Fields); err != nil {
				log.Printf("Skipping row with bad fields: %v", err)
				continue
			}
		}
		evs = append(evs, e)
	}
	return evs, rows.Err()
}

// commandChart plots the steer and throttle command series. Commands are
// logged on change, so the series is a step function sampled at the edges.
func commandChart(evs []event) *charts.Line {
	var (
		axis     []string
		steer    []opts.LineData
		throttle []opts.LineData
	)
	start := evs[0].TS
	for _, e := range evs {
		if e.Name != "command" {
			continue
		}
		axis = append(axis, relTime(start, e.TS))
		steer = append(steer, opts.LineData{Value: numField(e.Fields, "steer")})
		throttle = append(throttle, opts.LineData{Value: numField(e.Fields, "throttle")})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Drive Commands", Subtitle: fmt.Sprintf("%d command changes", len(axis))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Min: -1, Max: 1}),
		charts.WithXAxisOpts(opts.XAxis{Name: "t (s)"}),
	)
	line.SetXAxis(axis).
		AddSeries("steer", steer).
		AddSeries("throttle", throttle)
	return line
}

// stopChart plots the merged stop verdict as a 0/1 step series.
func stopChart(evs []event) *charts.Line {
	var (
		axis []string
		stop []opts.LineData
	)
	start := evs[0].TS
	for _, e := range evs {
		if e.Name != "stop_change" {
			continue
		}
		v := 0
		if b, ok := e.Fields["stop"].(bool); ok && b {
			v = 1
		}
		axis = append(axis, relTime(start, e.TS))
		stop = append(stop, opts.LineData{Value: v})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Stop Verdict"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: 1}),
		charts.WithXAxisOpts(opts.XAxis{Name: "t (s)"}),
	)
	line.SetXAxis(axis).
		AddSeries("stop", stop)
	return line
}

func relTime(start, ts int64) string {
	return fmt.Sprintf("%.2f", time.Duration(ts-start).Seconds())
}

func numField(fields map[string]any, key string) float64 {
	v, _ := fields[key].(float64)
	return v
}
