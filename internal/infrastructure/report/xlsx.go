// Package report renders workflow listings as XLSX workbooks.
package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/garyjia/bi-workflow/internal/domain/entity"
)

const timeLayout = "2006-01-02 15:04:05"

// Sheet names
const (
	InstancesSheet = "Instances"
	StaleSheet     = "Stale"
)

var instanceColumns = []string{
	"Code", "Entity Type", "Entity ID", "Status", "Step", "Priority",
	"Requester", "Approvers", "Requested At", "Completed At", "Completed By",
}

var staleColumns = []string{
	"Code", "Entity Type", "Entity ID", "Step", "Step Name", "Approvers",
	"Priority", "Requester", "Step Entered At", "Hours Pending", "SLA Hours",
}

// WriteInstances writes an instance listing workbook to w
func WriteInstances(w io.Writer, instances []*entity.WorkflowInstance) error {
	rows := make([][]interface{}, 0, len(instances))
	for _, inst := range instances {
		completedAt := ""
		if inst.CompletedAt != nil {
			completedAt = inst.CompletedAt.UTC().Format(timeLayout)
		}
		rows = append(rows, []interface{}{
			inst.Code,
			inst.EntityType,
			inst.EntityID,
			string(inst.Status),
			inst.CurrentStep,
			string(inst.Priority),
			inst.RequesterID,
			strings.Join(inst.CurrentApprovers(), ", "),
			inst.RequestedAt.UTC().Format(timeLayout),
			completedAt,
			inst.CompletedBy,
		})
	}
	return write(w, InstancesSheet, instanceColumns, rows)
}

// WriteStale writes the SLA report workbook to w
func WriteStale(w io.Writer, stale []*entity.StaleInstance) error {
	rows := make([][]interface{}, 0, len(stale))
	for _, s := range stale {
		inst := s.Instance
		rows = append(rows, []interface{}{
			inst.Code,
			inst.EntityType,
			inst.EntityID,
			inst.CurrentStep,
			s.StepName,
			strings.Join(inst.CurrentApprovers(), ", "),
			string(inst.Priority),
			inst.RequesterID,
			inst.StepEnteredAt.UTC().Format(timeLayout),
			hours(s.PendingFor),
			hours(s.SLA),
		})
	}
	return write(w, StaleSheet, staleColumns, rows)
}

func write(w io.Writer, sheet string, columns []string, rows [][]interface{}) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E0E0E0"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	for i, col := range columns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheet, cell, col); err != nil {
			return fmt.Errorf("failed to write header %s: %w", cell, err)
		}
		if err := f.SetCellStyle(sheet, cell, cell, headerStyle); err != nil {
			return fmt.Errorf("failed to style header %s: %w", cell, err)
		}
	}

	for r, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, r+2)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write row %d: %w", r+2, err)
		}
	}

	last, _ := excelize.ColumnNumberToName(len(columns))
	if err := f.SetColWidth(sheet, "A", last, 18); err != nil {
		return fmt.Errorf("failed to set column width: %w", err)
	}
	if err := f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return fmt.Errorf("failed to freeze header: %w", err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func hours(d time.Duration) float64 {
	return float64(int64(d.Hours()*10)) / 10
}
