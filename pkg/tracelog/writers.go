package tracelog

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/edgerun/galileo-go/pkg/gtypes"
	"github.com/edgerun/galileo-go/pkg/substrate"
)

var csvHeader = []string{"request_id", "client", "service", "server", "created", "sent", "done", "status", "response"}

// FileWriter appends traces to a per-worker CSV file, writing the header
// exactly once.
type FileWriter struct {
	path string
}

// NewFileWriter builds a writer targeting {targetDir}/traces-{hostName}.csv,
// creating targetDir and the header row if the file does not exist yet.
func NewFileWriter(targetDir, hostName string) (*FileWriter, error) {
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(targetDir, fmt.Sprintf("traces-%s.csv", hostName))

	if _, err := os.Stat(path); os.IsNotExist(err) {
		f, err := os.Create(path)
		if err != nil {
			return nil, err
		}
		w := csv.NewWriter(f)
		if err := w.Write(csvHeader); err != nil {
			f.Close()
			return nil, err
		}
		w.Flush()
		f.Close()
	}

	return &FileWriter{path: path}, nil
}

func (w *FileWriter) Write(traces []gtypes.RequestTrace) error {
	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	csvw := csv.NewWriter(f)
	for _, t := range traces {
		if err := csvw.Write(traceRow(t)); err != nil {
			return err
		}
	}
	csvw.Flush()
	return csvw.Error()
}

func traceRow(t gtypes.RequestTrace) []string {
	return []string{
		t.RequestId,
		t.ClientId,
		t.Service,
		t.Server,
		formatEpoch(t.Created),
		formatEpoch(t.Sent),
		formatEpoch(t.Done),
		strconv.Itoa(t.Status),
		t.Response,
	}
}

func formatEpoch(t time.Time) string {
	return strconv.FormatFloat(secondsSinceEpoch(t), 'f', 7, 64)
}

func secondsSinceEpoch(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / 1e9
}

// PubSubWriter publishes each trace into a sorted set keyed by Created.
type PubSubWriter struct {
	sub *substrate.Substrate
	key string
}

// NewPubSubWriter builds a writer against the given substrate, scoring
// each trace entry by its Created timestamp.
func NewPubSubWriter(sub *substrate.Substrate) *PubSubWriter {
	return &PubSubWriter{sub: sub, key: "galileo:results:traces"}
}

func (w *PubSubWriter) Write(traces []gtypes.RequestTrace) error {
	ctx := context.Background()
	for _, t := range traces {
		value := fmt.Sprintf("%s,%s,%s,%s,%.7f,%.7f,%.7f,%d,%s",
			t.RequestId, t.ClientId, t.Service, t.Server,
			secondsSinceEpoch(t.Created), secondsSinceEpoch(t.Sent), secondsSinceEpoch(t.Done),
			t.Status, t.Response)
		if err := w.sub.ZAdd(ctx, w.key, secondsSinceEpoch(t.Created), value); err != nil {
			return err
		}
	}
	return nil
}

// TraceDB is the narrow interface a database TraceWriter batch-inserts
// through; the concrete schema and driver are out of scope for the core.
type TraceDB interface {
	SaveTraces(traces []gtypes.RequestTrace) error
}

// DBWriter batch-inserts traces through a TraceDB.
type DBWriter struct {
	db TraceDB
}

// NewDBWriter builds a writer over db.
func NewDBWriter(db TraceDB) *DBWriter {
	return &DBWriter{db: db}
}

func (w *DBWriter) Write(traces []gtypes.RequestTrace) error {
	return w.db.SaveTraces(traces)
}
