// Package leadfile reads lead lists from CSV and XLSX files.
package leadfile

import (
	"context"
	"slices"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/skiptrace/internal/model"
)

var (
	// ErrNoIDColumn is returned when the header has no lead id column.
	ErrNoIDColumn = eris.New("no lead id column")
	// ErrUnsupported is returned for file types other than csv, tsv, txt and xlsx.
	ErrUnsupported = eris.New("unsupported file type")
)

// Options tunes parsing.
type Options struct {
	Delimiter rune   // csv only, default ','
	Sheet     string // xlsx only, default first sheet
}

// Header aliases, compared after folding case and dropping spaces,
// underscores and hyphens.
var (
	idHeaders      = []string{"id", "leadid", "lead"}
	addressHeaders = []string{"address", "propertyaddress", "fulladdress", "situsaddress"}
	streetHeaders  = []string{"street", "streetaddress", "address1", "propertystreet"}
	cityHeaders    = []string{"city", "propertycity"}
	stateHeaders   = []string{"state", "propertystate", "st"}
	zipHeaders     = []string{"zip", "zipcode", "postalcode", "propertyzip"}
)

type columns struct {
	id, address, street, city, state, zip int
}

func mapColumns(header []string) columns {
	c := columns{id: -1, address: -1, street: -1, city: -1, state: -1, zip: -1}
	for i, h := range header {
		key := foldHeader(h)
		switch {
		case c.id < 0 && slices.Contains(idHeaders, key):
			c.id = i
		case c.address < 0 && slices.Contains(addressHeaders, key):
			c.address = i
		case c.street < 0 && slices.Contains(streetHeaders, key):
			c.street = i
		case c.city < 0 && slices.Contains(cityHeaders, key):
			c.city = i
		case c.state < 0 && slices.Contains(stateHeaders, key):
			c.state = i
		case c.zip < 0 && slices.Contains(zipHeaders, key):
			c.zip = i
		}
	}
	return c
}

// addressOf returns the full address column, or one composed from street,
// city, state and zip.
func (c columns) addressOf(row []string) string {
	if a := cell(row, c.address); a != "" {
		return a
	}
	street := cell(row, c.street)
	if street == "" {
		return ""
	}
	parts := []string{street}
	if city := cell(row, c.city); city != "" {
		parts = append(parts, city)
	}
	stateZip := strings.TrimSpace(cell(row, c.state) + " " + cell(row, c.zip))
	if stateZip != "" {
		parts = append(parts, stateZip)
	}
	return strings.Join(parts, ", ")
}

// Read parses the leads in path. The first row is the header. Rows with no
// id are skipped; a repeated id keeps its last row.
func Read(ctx context.Context, path string, opts Options) ([]model.Lead, error) {
	var (
		cols  columns
		leads []model.Lead
		index = make(map[string]int)
	)
	err := eachRow(ctx, path, opts, func(n int, row []string) error {
		if n == 0 {
			cols = mapColumns(row)
			if cols.id < 0 {
				return eris.Wrapf(ErrNoIDColumn, "leadfile: %s", path)
			}
			return nil
		}
		id := cell(row, cols.id)
		if id == "" {
			return nil
		}
		lead := model.Lead{ID: id, Address: cols.addressOf(row)}
		if i, ok := index[id]; ok {
			leads[i] = lead
			return nil
		}
		index[id] = len(leads)
		leads = append(leads, lead)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return leads, nil
}

// ReadIDs returns the distinct lead ids in path in file order. A file whose
// header has no id column but only one column is read as a bare list of
// ids with no header.
func ReadIDs(ctx context.Context, path string, opts Options) ([]string, error) {
	var (
		idCol = -1
		ids   []string
		seen  = make(map[string]bool)
	)
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	err := eachRow(ctx, path, opts, func(n int, row []string) error {
		if n == 0 {
			idCol = mapColumns(row).id
			if idCol >= 0 {
				return nil
			}
			if len(row) != 1 {
				return eris.Wrapf(ErrNoIDColumn, "leadfile: %s", path)
			}
			idCol = 0
		}
		add(cell(row, idCol))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// eachRow calls fn for every non-blank row with its position among
// non-blank rows.
func eachRow(ctx context.Context, path string, opts Options, fn func(n int, row []string) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	rows, errs, closeFn, err := openRows(ctx, path, opts)
	if err != nil {
		return err
	}
	defer closeFn()

	n := 0
	for row := range rows {
		if blank(row) {
			continue
		}
		if err := fn(n, row); err != nil {
			cancel()
			for range rows {
			}
			return err
		}
		n++
	}
	for err := range errs {
		if err != nil {
			return err
		}
	}
	if n == 0 {
		return eris.Errorf("leadfile: %s is empty", path)
	}
	return nil
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func blank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func foldHeader(h string) string {
	h = strings.TrimPrefix(h, "\ufeff")
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '_', '-', '.':
			return -1
		}
		return r
	}, strings.ToLower(strings.TrimSpace(h)))
}
