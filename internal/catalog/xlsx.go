package catalog

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"

	"github.com/xuri/excelize/v2"

	"github.com/jonathan/scout-agent/internal/types"
)

// ErrDuplicate is returned when importing a company+title pair already in the sheet
var ErrDuplicate = errors.New("position already registered")

// Header is the column layout of the job sheet (A:K)
var Header = []string{"ID", "Company", "Title", "Status", "Summary", "Location", "Salary", "Must", "Plus", "Person", "Appeal"}

// ReadXLSX reads catalog items from sheet. The first row is a header.
func ReadXLSX(path, sheet string) ([]types.CatalogItem, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheet, err)
	}
	if len(rows) <= 1 {
		return nil, nil
	}

	items := make([]types.CatalogItem, 0, len(rows)-1)
	for _, r := range rows[1:] {
		items = append(items, itemFromCells(r))
	}
	return items, nil
}

func itemFromCells(r []string) types.CatalogItem {
	cell := func(i int) string {
		if i < len(r) {
			return r[i]
		}
		return ""
	}
	return types.CatalogItem{
		ID:       cell(0),
		Company:  cell(1),
		Title:    cell(2),
		Status:   cell(3),
		Summary:  cell(4),
		Location: cell(5),
		Salary:   cell(6),
		Must:     cell(7),
		Plus:     cell(8),
		Person:   cell(9),
		Appeal:   cell(10),
	}
}

// Import appends rec to sheet in the workbook at path, creating either when missing.
// It returns the 1-based sheet row written. A missing job ID is filled with the row's ordinal.
func Import(path, sheet string, rec Record) (int, error) {
	f, err := excelize.OpenFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		f = excelize.NewFile()
	case err != nil:
		return 0, fmt.Errorf("open workbook %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	if idx, _ := f.GetSheetIndex(sheet); idx == -1 {
		if _, err := f.NewSheet(sheet); err != nil {
			return 0, fmt.Errorf("create sheet %s: %w", sheet, err)
		}
		for i, h := range Header {
			cell, _ := excelize.CoordinatesToCellName(i+1, 1)
			_ = f.SetCellValue(sheet, cell, h)
		}
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return 0, fmt.Errorf("read sheet %s: %w", sheet, err)
	}
	item := rec.Item()
	for _, r := range rows[min(1, len(rows)):] {
		existing := itemFromCells(r)
		if existing.Company == item.Company && existing.Title == item.Title {
			return 0, fmt.Errorf("%w: %s / %s", ErrDuplicate, item.Company, item.Title)
		}
	}

	newRow := len(rows) + 1
	if item.ID == "" {
		item.ID = strconv.Itoa(newRow - 1)
	}
	values := []any{item.ID, item.Company, item.Title, item.Status, item.Summary, item.Location,
		item.Salary, item.Must, item.Plus, item.Person, item.Appeal}
	cell, _ := excelize.CoordinatesToCellName(1, newRow)
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return 0, fmt.Errorf("write row %d: %w", newRow, err)
	}
	if err := f.SaveAs(path); err != nil {
		return 0, fmt.Errorf("save workbook %s: %w", path, err)
	}
	return newRow, nil
}
