package service

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
)

// ExportService 任务表与库存记录导出
type ExportService struct {
	repos *repository.Repositories
}

var taskExportHeaders = []string{
	"工序", "顺序", "任务类型", "工作内容", "生产数量", "完成数量", "不良数量",
	"状态", "部门", "操作员", "父任务", "版本",
}

var taskTypeNames = map[string]string{
	entity.TaskTypePlateMaking: "制版",
	entity.TaskTypeCutting:     "开料",
	entity.TaskTypePrinting:    "印刷",
	entity.TaskTypeFoiling:     "烫金",
	entity.TaskTypeEmbossing:   "压凸",
	entity.TaskTypeDieCutting:  "模切",
	entity.TaskTypePackaging:   "包装",
	entity.TaskTypeGeneral:     "通用",
}

var taskStatusNames = map[string]string{
	entity.TaskStatusDraft:      "草稿",
	entity.TaskStatusPending:    "待开始",
	entity.TaskStatusInProgress: "进行中",
	entity.TaskStatusCompleted:  "已完成",
	entity.TaskStatusCancelled:  "已取消",
}

// ExportTasks 导出施工单全部任务为xlsx
func (s *ExportService) ExportTasks(ctx context.Context, workOrderID string) (*excelize.File, string, error) {
	wo, err := s.repos.WorkOrder.GetHeader(workOrderID)
	if err != nil {
		return nil, "", err
	}
	procs, err := s.repos.Process.ListByWorkOrder(workOrderID)
	if err != nil {
		return nil, "", err
	}

	f := excelize.NewFile()
	sheet := "任务"
	f.SetSheetName("Sheet1", sheet)

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 11},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#D9E1F2"}},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})
	for i, h := range taskExportHeaders {
		col, _ := excelize.ColumnNumberToName(i + 1)
		cell := col + "1"
		f.SetCellValue(sheet, cell, h)
		f.SetCellStyle(sheet, cell, cell, headerStyle)
	}

	names := s.nameLookup()
	row := 2
	for i := range procs {
		proc := &procs[i]
		tasks, err := s.repos.Task.ListByProcess(proc.ID)
		if err != nil {
			return nil, "", err
		}
		for _, t := range tasks {
			parent := ""
			if t.ParentTaskID != nil {
				parent = "是"
			}
			values := []interface{}{
				processName(proc),
				proc.Sequence,
				taskTypeNames[t.TaskType],
				t.WorkContent,
				t.ProductionQuantity,
				t.QuantityCompleted,
				t.QuantityDefective,
				taskStatusNames[t.Status],
				names.department(t.AssignedDepartmentID),
				names.user(t.AssignedOperatorID),
				parent,
				t.Version,
			}
			for c, v := range values {
				col, _ := excelize.ColumnNumberToName(c + 1)
				f.SetCellValue(sheet, fmt.Sprintf("%s%d", col, row), v)
			}
			row++
		}
	}

	colWidths := []float64{12, 6, 8, 28, 10, 10, 10, 8, 14, 12, 8, 6}
	for i, w := range colWidths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		f.SetColWidth(sheet, col, col, w)
	}
	return f, fmt.Sprintf("施工单_%s_任务.xlsx", wo.OrderNumber), nil
}

// names 导出时按 id 查名称，结果缓存在本次导出内
type names struct {
	org   *repository.OrgRepository
	users map[string]string
	depts map[string]string
}

func (s *ExportService) nameLookup() *names {
	return &names{org: s.repos.Org, users: map[string]string{}, depts: map[string]string{}}
}

func (n *names) user(id *string) string {
	if id == nil {
		return ""
	}
	if v, ok := n.users[*id]; ok {
		return v
	}
	v := *id
	if u, err := n.org.GetUser(*id); err == nil {
		v = u.Name
	}
	n.users[*id] = v
	return v
}

func (n *names) department(id *string) string {
	if id == nil {
		return ""
	}
	if v, ok := n.depts[*id]; ok {
		return v
	}
	v := *id
	if d, err := n.org.GetDepartment(*id); err == nil {
		v = d.Name
	}
	n.depts[*id] = v
	return v
}

// ExportStockLogsCSV 以 GB18030 编码写出产品库存记录，供旧版表格工具直接打开
func (s *ExportService) ExportStockLogsCSV(ctx context.Context, productID string, w io.Writer) (string, error) {
	product, err := s.repos.Product.GetByID(productID)
	if err != nil {
		return "", err
	}
	logs, err := s.repos.Product.ListStockLogs(productID)
	if err != nil {
		return "", err
	}

	enc := transform.NewWriter(w, simplifiedchinese.GB18030.NewEncoder())
	cw := csv.NewWriter(enc)
	if err := cw.Write([]string{"时间", "类型", "数量", "变更前", "变更后", "原因"}); err != nil {
		return "", err
	}
	for _, l := range logs {
		kind := "入库"
		if l.ChangeType == entity.StockChangeReduce {
			kind = "出库"
		}
		if err := cw.Write([]string{
			l.CreatedAt.Format("2006-01-02 15:04:05"),
			kind,
			strconv.Itoa(l.Quantity),
			strconv.Itoa(l.OldQuantity),
			strconv.Itoa(l.NewQuantity),
			l.Reason,
		}); err != nil {
			return "", err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return "", err
	}
	if err := enc.Close(); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s_库存记录.csv", product.Code), nil
}
