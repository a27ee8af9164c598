// Package tasks loads crawl task lists from CSV files. The position of a
// row in its file is the task index that checkpointing is keyed on, so a
// list must stay in the same order between runs to resume correctly.
package tasks

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/venuegrid/crawler/internal/crawl"
)

// Source is an in-memory task list with a stable identity.
type Source struct {
	id    string
	tasks []crawl.Task
}

// ID returns the identity checkpoints are stored under.
func (s *Source) ID() string { return s.id }

// Tasks returns the full ordered task list.
func (s *Source) Tasks() []crawl.Task { return s.tasks }

// Len returns the number of tasks.
func (s *Source) Len() int { return len(s.tasks) }

// New builds a Source from an already-assembled task list.
func New(id string, list []crawl.Task) *Source {
	return &Source{id: id, tasks: list}
}

// FromRecords derives a task list from persisted records, one task per
// record in storage order. Venue records become reviewer tasks this way:
// each saved venue URL is a page whose reviewers are still to be crawled.
func FromRecords(id string, records []crawl.Record, kind crawl.RecordKind) *Source {
	list := make([]crawl.Task, 0, len(records))
	for i, r := range records {
		list = append(list, crawl.Task{
			Index:  i,
			Zone:   r.Name,
			Region: r.Context,
			URL:    r.URL,
			Group:  r.Category,
			Kind:   kind,
		})
	}
	return &Source{id: id, tasks: list}
}

// Column header aliases accepted in task CSVs. Earlier deployments shipped
// the Spanish headers, so both spellings load.
var (
	zoneHeaders   = []string{"zone", "municipio", "name"}
	regionHeaders = []string{"region", "departamento"}
	urlHeaders    = []string{"url", "url_municipio", "link"}
	groupHeaders  = []string{"group", "category", "grupo"}
)

// LoadCSV reads one task list file. The first row must be a header naming
// at least a zone and a url column.
func LoadCSV(path string, kind crawl.RecordKind) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open task list: %w", err)
	}
	defer f.Close()

	list, err := parse(f, kind, 0)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return &Source{id: filepath.Base(path), tasks: list}, nil
}

// LoadDir concatenates every .csv file under dir, sorted by file name, into
// one list with continuous indices.
func LoadDir(dir string, kind crawl.RecordKind) (*Source, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read task dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".csv") {
			continue
		}
		names = append(names, e.Name())
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no task lists in %s", dir)
	}
	sort.Strings(names)

	var all []crawl.Task
	for _, name := range names {
		f, err := os.Open(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("open task list: %w", err)
		}
		list, err := parse(f, kind, len(all))
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		all = append(all, list...)
	}
	return &Source{id: filepath.Base(dir), tasks: all}, nil
}

func parse(r io.Reader, kind crawl.RecordKind, firstIndex int) ([]crawl.Task, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols, err := mapColumns(header)
	if err != nil {
		return nil, err
	}

	var list []crawl.Task
	index := firstIndex
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		zone := strings.TrimSpace(row[cols.zone])
		url := strings.TrimSpace(row[cols.url])
		if zone == "" || url == "" {
			continue
		}
		t := crawl.Task{
			Index: index,
			Zone:  zone,
			URL:   url,
			Kind:  kind,
		}
		if cols.region >= 0 {
			t.Region = strings.TrimSpace(row[cols.region])
		}
		if t.Region == "" {
			t.Region = zone
		}
		if cols.group >= 0 {
			t.Group = strings.TrimSpace(row[cols.group])
		}
		list = append(list, t)
		index++
	}
	return list, nil
}

type columns struct {
	zone   int
	region int
	url    int
	group  int
}

func mapColumns(header []string) (columns, error) {
	cols := columns{zone: -1, region: -1, url: -1, group: -1}
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(name))
		switch {
		case cols.zone < 0 && contains(zoneHeaders, name):
			cols.zone = i
		case cols.region < 0 && contains(regionHeaders, name):
			cols.region = i
		case cols.url < 0 && contains(urlHeaders, name):
			cols.url = i
		case cols.group < 0 && contains(groupHeaders, name):
			cols.group = i
		}
	}
	if cols.zone < 0 {
		return cols, fmt.Errorf("no zone column in header %v", header)
	}
	if cols.url < 0 {
		return cols, fmt.Errorf("no url column in header %v", header)
	}
	return cols, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
