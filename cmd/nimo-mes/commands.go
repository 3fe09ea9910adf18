package main

import (
	"fmt"
	"strings"

	"github.com/bitfantasy/nimo-mes/internal/mes/board"
	"github.com/bitfantasy/nimo-mes/internal/mes/catalog"
	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "同步数据库表结构",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap(false)
		if err != nil {
			return err
		}
		defer a.close()
		if err := entity.AutoMigrate(a.db); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		a.logger.Info("migration finished")
		return nil
	},
}

type seedOptions struct {
	orgFile     string
	catalogOnly bool
}

var seedOpts = &seedOptions{}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "写入内置工序目录与组织结构",
	Long: `写入内置工序目录（按编码幂等更新），
并读取组织种子文件写入部门、用户与分派规则。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap(true)
		if err != nil {
			return err
		}
		defer a.close()

		if err := catalog.Seed(a.db); err != nil {
			return fmt.Errorf("seed catalog: %w", err)
		}
		a.logger.Info("process catalog seeded", zap.Int("processes", len(catalog.All())))
		if seedOpts.catalogOnly {
			return nil
		}

		path := seedOpts.orgFile
		if path == "" {
			path = a.cfg.Catalog.OrgSeed
		}
		seed, err := catalog.LoadOrgSeed(path)
		if err != nil {
			return err
		}
		if err := catalog.ApplyOrgSeed(repository.NewRepositories(a.db), seed); err != nil {
			return fmt.Errorf("apply org seed: %w", err)
		}
		a.logger.Info("org seeded",
			zap.String("file", path),
			zap.Int("departments", len(seed.Departments)),
			zap.Int("users", len(seed.Users)),
			zap.Int("rules", len(seed.Rules)),
		)
		return nil
	},
}

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "列出内置工序目录",
	Run: func(cmd *cobra.Command, args []string) {
		table := tablewriter.NewWriter(cmd.OutOrStdout())
		table.SetHeader([]string{"编码", "名称", "排序", "并行", "需分切", "印刷版", "刀版", "烫金版", "击凸版"})
		table.SetAlignment(tablewriter.ALIGN_LEFT)
		for _, d := range catalog.All() {
			table.Append([]string{
				d.Code,
				d.Name,
				fmt.Sprint(d.SortOrder),
				yesNo(d.Parallel),
				yesNo(d.MaterialCut),
				requirement(d.Artwork),
				requirement(d.Die),
				requirement(d.FoilingPlate),
				requirement(d.EmbossingPlate),
			})
		}
		table.Render()
	},
}

func yesNo(b bool) string {
	if b {
		return "是"
	}
	return ""
}

func requirement(r catalog.Requirement) string {
	switch {
	case r.Hard():
		return "必选"
	case r.Requires:
		return "可选"
	}
	return ""
}

var sweepCmd = &cobra.Command{
	Use:   "stock-sweep",
	Short: "执行一次低库存巡检并输出结果",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap(true)
		if err != nil {
			return err
		}
		defer a.close()

		services, _ := a.services(nil)
		low, err := services.Sweep.Run(cmd.Context())
		if err != nil {
			return err
		}
		if len(low) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "没有低于安全库存的产品")
			return nil
		}
		services.Sweep.Report(cmd.OutOrStdout(), low)
		return nil
	},
}

type boardOptions struct {
	status string
}

var boardOpts = &boardOptions{}

var boardCmd = &cobra.Command{
	Use:   "board",
	Short: "终端车间看板",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap(true)
		if err != nil {
			return err
		}
		defer a.close()

		_, repos := a.services(nil)
		return board.Run(cmd.Context(), board.RepoSource{Repos: repos, Status: strings.TrimSpace(boardOpts.status)})
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "显示版本",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "nimo-mes %s (%s)\n", Version, BuildTime)
	},
}

func init() {
	seedCmd.Flags().StringVarP(&seedOpts.orgFile, "org", "o", "", "组织种子文件，默认取配置 catalog.org_seed")
	seedCmd.Flags().BoolVar(&seedOpts.catalogOnly, "catalog-only", false, "只写入工序目录")
	boardCmd.Flags().StringVarP(&boardOpts.status, "status", "s", "", "只显示该状态的施工单")
}
