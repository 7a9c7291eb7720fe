// Package importer reads bulk item and user uploads from CSV or XLSX sheets.
// The first row is the header; columns may come in any order.
package importer

import (
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"Gin_postgres_redis_lending_portal/apperr"
	"Gin_postgres_redis_lending_portal/models"
)

const MaxRows = 1000

var (
	ErrNoData      = apperr.New(apperr.KindValidation, "IMPORT_NO_DATA", "file has no data rows below the header")
	ErrTooManyRows = apperr.New(apperr.KindValidation, "IMPORT_TOO_MANY_ROWS", fmt.Sprintf("file has more than %d data rows", MaxRows))
	ErrUnsupported = apperr.New(apperr.KindValidation, "IMPORT_UNSUPPORTED", "file must be .csv or .xlsx")
)

func badHeader(cols ...string) error {
	return apperr.New(apperr.KindValidation, "IMPORT_BAD_HEADER", "header is missing column(s): "+strings.Join(cols, ", "))
}

// RowError reports why one sheet row was skipped. Row is 1-based and counts
// the header.
type RowError struct {
	Row    int    `json:"row"`
	Reason string `json:"reason"`
}

type Report struct {
	Total   int        `json:"total"`
	Created int        `json:"created"`
	Failed  int        `json:"failed"`
	Errors  []RowError `json:"errors"`
}

func (r *Report) Fail(row int, reason string) {
	r.Failed++
	r.Errors = append(r.Errors, RowError{Row: row, Reason: reason})
}

// ReadSheet returns all rows of a .csv file or the first sheet of a .xlsx
// file, chosen by the file name's extension.
func ReadSheet(filename string, r io.Reader) ([][]string, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		cr := csv.NewReader(r)
		cr.FieldsPerRecord = -1
		cr.TrimLeadingSpace = true
		rows, err := cr.ReadAll()
		if err != nil {
			return nil, apperr.Wrap(apperr.KindValidation, "IMPORT_BAD_FILE", "cannot parse csv file", err)
		}
		return rows, nil
	case ".xlsx":
		f, err := excelize.OpenReader(r)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindValidation, "IMPORT_BAD_FILE", "cannot parse xlsx file", err)
		}
		defer f.Close()
		rows, err := f.GetRows(f.GetSheetName(0))
		if err != nil {
			return nil, fmt.Errorf("read sheet: %w", err)
		}
		return rows, nil
	default:
		return nil, ErrUnsupported
	}
}

// headerIndex maps each wanted column name to its position, -1 if absent.
func headerIndex(header []string, aliases map[string][]string) map[string]int {
	idx := make(map[string]int, len(aliases))
	for col := range aliases {
		idx[col] = -1
	}
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		for col, names := range aliases {
			for _, n := range names {
				if h == n && idx[col] < 0 {
					idx[col] = i
				}
			}
		}
	}
	return idx
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func dataRows(rows [][]string) error {
	if len(rows) < 2 {
		return ErrNoData
	}
	if len(rows)-1 > MaxRows {
		return ErrTooManyRows
	}
	return nil
}

type ItemRow struct {
	Row   int
	Name  string
	Code  string
	Image string
}

var itemColumns = map[string][]string{
	"name":  {"name", "nama", "item", "item_name"},
	"code":  {"code", "kode", "item_code"},
	"image": {"image", "gambar", "image_url"},
}

// ParseItems keeps rows with both name and code; the others land in the
// report as failures.
func ParseItems(sheet [][]string) ([]ItemRow, *Report, error) {
	if err := dataRows(sheet); err != nil {
		return nil, nil, err
	}
	idx := headerIndex(sheet[0], itemColumns)
	var missing []string
	for _, c := range []string{"name", "code"} {
		if idx[c] < 0 {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, nil, badHeader(missing...)
	}

	rep := &Report{}
	var out []ItemRow
	seen := map[string]int{}
	for i, row := range sheet[1:] {
		if blank(row) {
			continue
		}
		rep.Total++
		it := ItemRow{
			Row:   i + 2,
			Name:  cell(row, idx["name"]),
			Code:  cell(row, idx["code"]),
			Image: cell(row, idx["image"]),
		}
		switch {
		case it.Name == "" || it.Code == "":
			rep.Fail(it.Row, "name and code are required")
		case seen[it.Code] != 0:
			rep.Fail(it.Row, fmt.Sprintf("code %q repeats row %d", it.Code, seen[it.Code]))
		default:
			seen[it.Code] = it.Row
			out = append(out, it)
		}
	}
	if rep.Total == 0 {
		return nil, nil, ErrNoData
	}
	return out, rep, nil
}

type UserRow struct {
	Row      int
	Email    string
	Name     string
	Role     models.Role
	Password string
}

var userColumns = map[string][]string{
	"email":    {"email", "e-mail"},
	"name":     {"name", "nama", "full_name"},
	"role":     {"role", "peran"},
	"password": {"password"},
}

// ParseUsers defaults a missing role cell to student.
func ParseUsers(sheet [][]string) ([]UserRow, *Report, error) {
	if err := dataRows(sheet); err != nil {
		return nil, nil, err
	}
	idx := headerIndex(sheet[0], userColumns)
	var missing []string
	for _, c := range []string{"email", "name"} {
		if idx[c] < 0 {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, nil, badHeader(missing...)
	}

	rep := &Report{}
	var out []UserRow
	seen := map[string]int{}
	for i, row := range sheet[1:] {
		if blank(row) {
			continue
		}
		rep.Total++
		u := UserRow{
			Row:      i + 2,
			Email:    strings.ToLower(cell(row, idx["email"])),
			Name:     cell(row, idx["name"]),
			Password: cell(row, idx["password"]),
			Role:     models.RoleStudent,
		}
		if s := cell(row, idx["role"]); s != "" {
			r, err := models.ParseRole(s)
			if err != nil {
				rep.Fail(u.Row, fmt.Sprintf("unknown role %q", s))
				continue
			}
			u.Role = r
		}
		switch {
		case u.Email == "" || u.Name == "":
			rep.Fail(u.Row, "email and name are required")
		case !strings.Contains(u.Email, "@"):
			rep.Fail(u.Row, fmt.Sprintf("invalid email %q", u.Email))
		case u.Role == models.RoleSuperadmin:
			rep.Fail(u.Row, "superadmin accounts cannot be imported")
		case seen[u.Email] != 0:
			rep.Fail(u.Row, fmt.Sprintf("email %q repeats row %d", u.Email, seen[u.Email]))
		default:
			seen[u.Email] = u.Row
			out = append(out, u)
		}
	}
	if rep.Total == 0 {
		return nil, nil, ErrNoData
	}
	return out, rep, nil
}
