package service

import (
	"context"
	"io"
	"strconv"

	"github.com/bitfantasy/nimo-mes/internal/mes/auth"
	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/olekukonko/tablewriter"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// StockSweep 定时巡检低库存产品，向超级管理员发送预警
type StockSweep struct {
	*engine
}

// Run 查询并通知，返回低库存产品
func (s *StockSweep) Run(ctx context.Context) ([]entity.Product, error) {
	var low []entity.Product
	err := s.run(ctx, auth.System(), func(sc *scope) error {
		var err error
		if low, err = sc.repos.Product.ListLowStock(); err != nil {
			return err
		}
		return queueLowStock(sc, low, nil)
	})
	if err != nil {
		return nil, err
	}
	return low, nil
}

// Report 表格输出
func (s *StockSweep) Report(w io.Writer, products []entity.Product) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"编码", "名称", "库存", "安全库存", "单位"})
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	for _, p := range products {
		table.Append([]string{
			p.Code,
			p.Name,
			strconv.Itoa(p.StockQuantity),
			strconv.Itoa(p.MinStockQuantity),
			p.Unit,
		})
	}
	table.Render()
}

// Schedule 按 cron 表达式定时巡检，调用方负责 Stop
func (s *StockSweep) Schedule(spec string) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		low, err := s.Run(context.Background())
		if err != nil {
			s.logger.Error("low stock sweep failed", zap.Error(err))
			return
		}
		s.logger.Info("low stock sweep finished", zap.Int("low_stock", len(low)))
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	return c, nil
}
