// Package report renders attendance sheets for download from the dashboard.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"startrak/internal/attendance"
)

const sheetName = "Attendance"

var headers = []string{"Student ID", "Name", "Status", "Checked In", "Learning Since", "Checked Out", "Notes"}

// Row pairs a record with its student for rendering.
type Row struct {
	Student attendance.Student
	Record  attendance.Record
}

// WriteSessionSheet writes one session's attendance as an xlsx workbook.
func WriteSessionSheet(w io.Writer, session attendance.Session, rows []Row) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return err
	}

	title := fmt.Sprintf("%s - %s", session.Name, session.StartsAt.Format("2006-01-02"))
	if err := f.SetCellValue(sheetName, "A1", title); err != nil {
		return err
	}
	for i, h := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 2)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheetName, cell, h); err != nil {
			return err
		}
	}

	for i, row := range rows {
		values := []any{
			row.Student.StudentCode,
			row.Student.Name,
			string(row.Record.Status),
			cellTime(row.Record.CheckInTime),
			cellTime(row.Record.LearningStartTime),
			cellTime(row.Record.CheckOutTime),
			row.Record.Notes,
		}
		for j, v := range values {
			cell, err := excelize.CoordinatesToCellName(j+1, i+3)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheetName, cell, v); err != nil {
				return err
			}
		}
	}

	return f.Write(w)
}

func cellTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Local().Format("15:04:05")
}
