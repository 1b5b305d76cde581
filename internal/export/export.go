package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"cabinetbench/internal/stats"
)

type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatCSV, FormatJSON, FormatYAML:
		return f, nil
	case "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("unknown export format %q (csv, json, yaml)", s)
}

// Row is one dispatched write as exported.
type Row struct {
	TimeStamp int64   `json:"timestamp_ms"`
	Worker    int     `json:"worker"`
	Target    string  `json:"target"`
	Key       string  `json:"key"`
	Status    int     `json:"status"`
	Message   string  `json:"message,omitempty"`
	Success   bool    `json:"success"`
	LatencyMs float64 `json:"latency_ms"`
	Error     string  `json:"error,omitempty"`
}

// Rows flattens worker outcomes in worker order.
func Rows(results []stats.WorkerResult) []Row {
	var rows []Row
	for _, w := range results {
		for _, o := range w.Outcomes {
			r := Row{
				TimeStamp: o.Start.UnixMilli(),
				Worker:    w.WorkerID,
				Target:    o.Target.String(),
				Key:       o.Key,
				Status:    o.Status,
				Message:   http.StatusText(o.Status),
				Success:   o.Success,
				LatencyMs: float64(o.Latency.Microseconds()) / 1000,
			}
			if o.Err != nil {
				r.Error = o.Err.Error()
			}
			rows = append(rows, r)
		}
	}
	return rows
}

// ExportCSV writes one line per dispatched write.
func ExportCSV(results []stats.WorkerResult, filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)

	header := []string{"timeStamp", "worker", "target", "key", "responseCode", "responseMessage", "success", "latencyMs", "failureMessage"}
	if err := w.Write(header); err != nil {
		return err
	}
	for _, r := range Rows(results) {
		record := []string{
			strconv.FormatInt(r.TimeStamp, 10),
			strconv.Itoa(r.Worker),
			r.Target,
			r.Key,
			strconv.Itoa(r.Status),
			r.Message,
			strconv.FormatBool(r.Success),
			strconv.FormatFloat(r.LatencyMs, 'f', 3, 64),
			r.Error,
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func ExportJSON(results []stats.WorkerResult, filename string) error {
	rows := Rows(results)
	if rows == nil {
		rows = []Row{}
	}
	data, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0644)
}

// ExportSummary writes the report as JSON, or YAML when format is yaml.
func ExportSummary(rep stats.Report, filename string, format Format) error {
	var (
		data []byte
		err  error
	)
	if format == FormatYAML {
		data, err = yaml.Marshal(rep)
	} else {
		data, err = json.MarshalIndent(rep, "", "  ")
	}
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0644)
}

// WriteAll writes "<prefix>_outcomes.<csv|json>" and
// "<prefix>_summary.<json|yaml>" and returns the paths written.
func WriteAll(prefix string, format Format, rep stats.Report, results []stats.WorkerResult) ([]string, error) {
	outcomes := prefix + "_outcomes.csv"
	summary := prefix + "_summary.json"
	switch format {
	case FormatJSON:
		outcomes = prefix + "_outcomes.json"
	case FormatYAML:
		summary = prefix + "_summary.yaml"
	}

	var err error
	if format == FormatJSON {
		err = ExportJSON(results, outcomes)
	} else {
		err = ExportCSV(results, outcomes)
	}
	if err != nil {
		return nil, fmt.Errorf("export outcomes: %w", err)
	}
	if err := ExportSummary(rep, summary, format); err != nil {
		return []string{outcomes}, fmt.Errorf("export summary: %w", err)
	}
	return []string{outcomes, summary}, nil
}
