package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bitfantasy/nimo-mes/internal/mes/apperr"
	"github.com/bitfantasy/nimo-mes/internal/mes/auth"
	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/bitfantasy/nimo-mes/internal/mes/notify"
	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// WorkOrderService 施工单生命周期
type WorkOrderService struct {
	*engine
	generator *TaskGenerator
	router    *AssignmentRouter
	process   *ProcessService
	task      *TaskService
}

// ProductLine 施工单产品行
type ProductLine struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Unit      string `json:"unit"`
}

// ProcessLine 施工单工序行，ProcessID 与 Code 二选一
type ProcessLine struct {
	ProcessID        string     `json:"process_id"`
	Code             string     `json:"code"`
	Sequence         int        `json:"sequence"`
	DepartmentID     *string    `json:"department_id"`
	OperatorID       *string    `json:"operator_id"`
	PlannedStartTime *time.Time `json:"planned_start_time"`
	PlannedEndTime   *time.Time `json:"planned_end_time"`
}

// MaterialLine 施工单物料行
type MaterialLine struct {
	MaterialID    string `json:"material_id"`
	MaterialSize  string `json:"material_size"`
	MaterialUsage string `json:"material_usage"`
	NeedCutting   bool   `json:"need_cutting"`
	Notes         string `json:"notes"`
}

type CreateWorkOrderInput struct {
	CustomerID          *string          `json:"customer_id"`
	OrderDate           *time.Time       `json:"order_date"`
	DeliveryDate        *time.Time       `json:"delivery_date"`
	ProductionQuantity  *int             `json:"production_quantity"`
	TotalAmount         *decimal.Decimal `json:"total_amount"`
	Priority            string           `json:"priority"`
	PrintingType        string           `json:"printing_type"`
	PrintingCMYKColors  string           `json:"printing_cmyk_colors"`
	PrintingOtherColors string           `json:"printing_other_colors"`
	Notes               string           `json:"notes"`
	DesignFile          string           `json:"design_file"`
	ManagerID           *string          `json:"manager_id"`
	Products            []ProductLine    `json:"products"`
	Processes           []ProcessLine    `json:"processes"`
	Materials           []MaterialLine   `json:"materials"`
	ArtworkIDs          []string         `json:"artwork_ids"`
	DieIDs              []string         `json:"die_ids"`
	FoilingPlateIDs     []string         `json:"foiling_plate_ids"`
	EmbossingPlateIDs   []string         `json:"embossing_plate_ids"`
}

// UpdateWorkOrderInput 只更新非空字段
type UpdateWorkOrderInput struct {
	// 审核后受保护
	CustomerID          *string          `json:"customer_id"`
	ProductionQuantity  *int             `json:"production_quantity"`
	TotalAmount         *decimal.Decimal `json:"total_amount"`
	PrintingType        *string          `json:"printing_type"`
	PrintingCMYKColors  *string          `json:"printing_cmyk_colors"`
	PrintingOtherColors *string          `json:"printing_other_colors"`
	Products            *[]ProductLine   `json:"products"`
	Processes           *[]ProcessLine   `json:"processes"`
	ArtworkIDs          *[]string        `json:"artwork_ids"`
	DieIDs              *[]string        `json:"die_ids"`
	FoilingPlateIDs     *[]string        `json:"foiling_plate_ids"`
	EmbossingPlateIDs   *[]string        `json:"embossing_plate_ids"`

	// 始终可改
	Notes              *string         `json:"notes"`
	DeliveryDate       *time.Time      `json:"delivery_date"`
	ActualDeliveryDate *time.Time      `json:"actual_delivery_date"`
	Priority           *string         `json:"priority"`
	DesignFile         *string         `json:"design_file"`
	ManagerID          *string         `json:"manager_id"`
	DefectiveQuantity  *int            `json:"defective_quantity"`
	Materials          *[]MaterialLine `json:"materials"`
}

// touchesProtected 是否修改了审核后受保护的字段
func (in *UpdateWorkOrderInput) touchesProtected() bool {
	return in.CustomerID != nil || in.ProductionQuantity != nil || in.TotalAmount != nil ||
		in.PrintingType != nil || in.PrintingCMYKColors != nil || in.PrintingOtherColors != nil ||
		in.Products != nil || in.Processes != nil ||
		in.ArtworkIDs != nil || in.DieIDs != nil || in.FoilingPlateIDs != nil || in.EmbossingPlateIDs != nil
}

// affectsTasks 会改变任务生成结果的字段
func (in *UpdateWorkOrderInput) affectsTasks() bool {
	return in.ProductionQuantity != nil || in.Products != nil || in.Materials != nil ||
		in.ArtworkIDs != nil || in.DieIDs != nil || in.FoilingPlateIDs != nil || in.EmbossingPlateIDs != nil
}

var validPriorities = map[string]bool{
	entity.PriorityLow:    true,
	entity.PriorityNormal: true,
	entity.PriorityHigh:   true,
	entity.PriorityUrgent: true,
}

// Create 生成施工单号并写入施工单及其子表，为每道工序生成草稿任务
func (s *WorkOrderService) Create(ctx context.Context, actor auth.Actor, in CreateWorkOrderInput) (*entity.WorkOrder, error) {
	var id string
	err := s.mint(ctx, actor, func(sc *scope) error {
		if in.CustomerID != nil {
			if _, err := sc.repos.Org.GetCustomer(*in.CustomerID); err != nil {
				return err
			}
		}
		priority := in.Priority
		if priority == "" {
			priority = entity.PriorityNormal
		}
		if !validPriorities[priority] {
			return apperr.Validationf("无效的优先级: %s", priority)
		}
		orderDate := sc.now
		if in.OrderDate != nil {
			orderDate = *in.OrderDate
		}
		if in.DeliveryDate != nil && dateOnly(*in.DeliveryDate, orderDate.Location()).Before(dateOnly(orderDate, orderDate.Location())) {
			return apperr.Validation("交货日期不能早于下单日期")
		}
		if in.ProductionQuantity != nil && *in.ProductionQuantity < 0 {
			return apperr.Validation("生产数量不能小于0")
		}

		number, err := sc.repos.Sequence.NextWorkOrderNumber(sc.now)
		if err != nil {
			return err
		}
		printingType := in.PrintingType
		if printingType == "" {
			printingType = "none"
		}
		wo := &entity.WorkOrder{
			ID:                  newID(),
			OrderNumber:         number,
			CustomerID:          in.CustomerID,
			OrderDate:           orderDate,
			DeliveryDate:        in.DeliveryDate,
			ProductionQuantity:  in.ProductionQuantity,
			Priority:            priority,
			Status:              entity.WOStatusPending,
			ApprovalStatus:      entity.ApprovalPending,
			PrintingType:        printingType,
			PrintingCMYKColors:  in.PrintingCMYKColors,
			PrintingOtherColors: in.PrintingOtherColors,
			Notes:               in.Notes,
			DesignFile:          in.DesignFile,
			CreatedByID:         sc.actor.OperatorID(),
			ManagerID:           in.ManagerID,
			CreatedAt:           sc.now,
			UpdatedAt:           sc.now,
		}
		if in.TotalAmount != nil {
			wo.TotalAmount = *in.TotalAmount
		}
		if err := sc.repos.WorkOrder.Create(wo); err != nil {
			return fmt.Errorf("创建施工单失败: %w", err)
		}
		id = wo.ID

		products, err := s.buildProducts(sc, wo.ID, in.Products)
		if err != nil {
			return err
		}
		if err := sc.repos.WorkOrder.CreateProducts(products); err != nil {
			return err
		}
		materials, err := s.buildMaterials(sc, wo.ID, in.Materials)
		if err != nil {
			return err
		}
		if err := sc.repos.WorkOrder.CreateMaterials(materials); err != nil {
			return err
		}
		if err := s.replaceAssets(sc, wo, in.ArtworkIDs, in.DieIDs, in.FoilingPlateIDs, in.EmbossingPlateIDs); err != nil {
			return err
		}
		lines, err := resolveProcessLines(sc, in.Processes)
		if err != nil {
			return err
		}
		for _, l := range lines {
			if err := sc.repos.Process.Create(l.newProcess(wo.ID, sc.now)); err != nil {
				return err
			}
		}
		return s.rebuildDrafts(sc, wo.ID)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("work order created", zap.String("work_order_id", id), zap.String("actor", actor.UserID))
	return s.repos.WorkOrder.GetByID(id)
}

func (s *WorkOrderService) buildProducts(sc *scope, woID string, lines []ProductLine) ([]entity.WorkOrderProduct, error) {
	if len(lines) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.ProductID)
	}
	found, err := sc.repos.Product.FindByIDs(ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*entity.Product, len(found))
	for i := range found {
		byID[found[i].ID] = &found[i]
	}
	items := make([]entity.WorkOrderProduct, 0, len(lines))
	for i, l := range lines {
		p, ok := byID[l.ProductID]
		if !ok {
			return nil, apperr.NotFound("产品不存在: " + l.ProductID)
		}
		if l.Quantity < 0 {
			return nil, apperr.Validationf("产品\"%s\"的数量不能小于0", p.Name)
		}
		unit := l.Unit
		if unit == "" {
			unit = p.Unit
		}
		items = append(items, entity.WorkOrderProduct{
			ID:          newID(),
			WorkOrderID: woID,
			ProductID:   l.ProductID,
			Quantity:    l.Quantity,
			Unit:        unit,
			SortOrder:   i,
			CreatedAt:   sc.now,
		})
	}
	return items, nil
}

func (s *WorkOrderService) buildMaterials(sc *scope, woID string, lines []MaterialLine) ([]entity.WorkOrderMaterial, error) {
	items := make([]entity.WorkOrderMaterial, 0, len(lines))
	for i, l := range lines {
		if _, err := sc.repos.Product.GetMaterial(l.MaterialID); err != nil {
			return nil, err
		}
		created := sc.now.Add(time.Duration(i) * time.Microsecond)
		items = append(items, entity.WorkOrderMaterial{
			ID:             newID(),
			WorkOrderID:    woID,
			MaterialID:     l.MaterialID,
			MaterialSize:   l.MaterialSize,
			MaterialUsage:  l.MaterialUsage,
			NeedCutting:    l.NeedCutting,
			PurchaseStatus: entity.PurchasePending,
			Notes:          l.Notes,
			CreatedAt:      created,
			UpdatedAt:      created,
		})
	}
	return items, nil
}

// replaceAssets 校验并替换关联的版，nil 表示保持不变
func (s *WorkOrderService) replaceAssets(sc *scope, wo *entity.WorkOrder, artworkIDs, dieIDs, foilingIDs, embossingIDs []string) error {
	artworks, err := sc.repos.Asset.FindArtworks(artworkIDs)
	if err != nil {
		return err
	}
	dies, err := sc.repos.Asset.FindDies(dieIDs)
	if err != nil {
		return err
	}
	foiling, err := sc.repos.Asset.FindFoilingPlates(foilingIDs)
	if err != nil {
		return err
	}
	embossing, err := sc.repos.Asset.FindEmbossingPlates(embossingIDs)
	if err != nil {
		return err
	}
	if len(artworks) != len(unique(artworkIDs)) {
		return apperr.NotFound("图稿不存在")
	}
	if len(dies) != len(unique(dieIDs)) {
		return apperr.NotFound("刀模不存在")
	}
	if len(foiling) != len(unique(foilingIDs)) {
		return apperr.NotFound("烫金版不存在")
	}
	if len(embossing) != len(unique(embossingIDs)) {
		return apperr.NotFound("压凸版不存在")
	}
	return sc.repos.WorkOrder.ReplaceAssets(wo, artworks, dies, foiling, embossing)
}

func unique(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// resolvedLine 已解析工序定义的工序行
type resolvedLine struct {
	ProcessLine
	def *entity.Process
}

func (l resolvedLine) newProcess(woID string, now time.Time) *entity.WorkOrderProcess {
	return &entity.WorkOrderProcess{
		ID:               newID(),
		WorkOrderID:      woID,
		ProcessID:        l.def.ID,
		Sequence:         l.Sequence,
		Status:           entity.ProcessStatusPending,
		PlannedStartTime: l.PlannedStartTime,
		PlannedEndTime:   l.PlannedEndTime,
		DepartmentID:     l.DepartmentID,
		OperatorID:       l.OperatorID,
		CreatedAt:        now,
		UpdatedAt:        now,
		Process:          l.def,
	}
}

// resolveProcessLines 解析工序定义，未填顺序时按 10、20、30 编排
func resolveProcessLines(sc *scope, lines []ProcessLine) ([]resolvedLine, error) {
	out := make([]resolvedLine, 0, len(lines))
	seqs := make(map[int]bool, len(lines))
	defs := make(map[string]bool, len(lines))
	for i, l := range lines {
		var (
			def *entity.Process
			err error
		)
		switch {
		case l.ProcessID != "":
			def, err = sc.repos.Org.ProcessByID(l.ProcessID)
		case l.Code != "":
			def, err = sc.repos.Org.ProcessByCode(strings.ToUpper(l.Code))
		default:
			return nil, apperr.Validationf("第%d道工序缺少工序", i+1)
		}
		if err != nil {
			return nil, err
		}
		if !def.IsActive {
			return nil, apperr.Validationf("工序\"%s\"已停用", def.Name)
		}
		if defs[def.ID] {
			return nil, apperr.Validationf("工序\"%s\"重复", def.Name)
		}
		defs[def.ID] = true
		if l.Sequence == 0 {
			l.Sequence = (i + 1) * 10
		}
		if l.Sequence < 0 {
			return nil, apperr.Validation("工序顺序必须大于0")
		}
		if seqs[l.Sequence] {
			return nil, apperr.Validationf("工序顺序%d重复", l.Sequence)
		}
		seqs[l.Sequence] = true
		l.ProcessID = def.ID
		out = append(out, resolvedLine{ProcessLine: l, def: def})
	}
	return out, nil
}

// rebuildDrafts 重建只有草稿任务的工序，已下达任务的工序不动
func (s *WorkOrderService) rebuildDrafts(sc *scope, woID string) error {
	wo, err := sc.repos.WorkOrder.GetByID(woID)
	if err != nil {
		return err
	}
	for i := range wo.Processes {
		proc := &wo.Processes[i]
		if proc.Status != entity.ProcessStatusPending {
			continue
		}
		released, err := sc.repos.Task.CountNonDraftByProcess(proc.ID)
		if err != nil {
			return err
		}
		if released > 0 {
			continue
		}
		if _, err := sc.repos.Task.DeleteDraftByProcess(proc.ID); err != nil {
			return err
		}
		if _, err := s.generator.Generate(sc, wo, proc, entity.TaskStatusDraft); err != nil {
			return err
		}
	}
	return nil
}

// Update 更新施工单；审核通过后修改受保护字段需要额外权限
func (s *WorkOrderService) Update(ctx context.Context, actor auth.Actor, id string, in UpdateWorkOrderInput) (*entity.WorkOrder, error) {
	err := s.run(ctx, actor, func(sc *scope) error {
		wo, err := sc.repos.WorkOrder.Lock(id)
		if err != nil {
			return err
		}
		if err := checkCanOperate(sc.actor, wo); err != nil {
			return err
		}
		if wo.Status == entity.WOStatusCancelled {
			return apperr.StateViolation("施工单已取消，不能修改")
		}
		if wo.IsApproved() && in.touchesProtected() && !sc.actor.Can(auth.CapChangeApprovedWorkOrder) {
			return apperr.PermissionDenied("施工单已审核通过，修改受保护字段需要\"修改已审核施工单\"权限")
		}

		fields := map[string]interface{}{}
		if in.CustomerID != nil {
			if _, err := sc.repos.Org.GetCustomer(*in.CustomerID); err != nil {
				return err
			}
			fields["customer_id"] = *in.CustomerID
		}
		if in.ProductionQuantity != nil {
			if *in.ProductionQuantity < 0 {
				return apperr.Validation("生产数量不能小于0")
			}
			fields["production_quantity"] = *in.ProductionQuantity
		}
		if in.TotalAmount != nil {
			fields["total_amount"] = *in.TotalAmount
		}
		if in.PrintingType != nil {
			fields["printing_type"] = *in.PrintingType
		}
		if in.PrintingCMYKColors != nil {
			fields["printing_cmyk_colors"] = *in.PrintingCMYKColors
		}
		if in.PrintingOtherColors != nil {
			fields["printing_other_colors"] = *in.PrintingOtherColors
		}
		if in.Notes != nil {
			fields["notes"] = *in.Notes
		}
		if in.DeliveryDate != nil {
			loc := wo.OrderDate.Location()
			if dateOnly(*in.DeliveryDate, loc).Before(dateOnly(wo.OrderDate, loc)) {
				return apperr.Validation("交货日期不能早于下单日期")
			}
			fields["delivery_date"] = *in.DeliveryDate
		}
		if in.ActualDeliveryDate != nil {
			fields["actual_delivery_date"] = *in.ActualDeliveryDate
		}
		if in.Priority != nil {
			if !validPriorities[*in.Priority] {
				return apperr.Validationf("无效的优先级: %s", *in.Priority)
			}
			fields["priority"] = *in.Priority
		}
		if in.DesignFile != nil {
			fields["design_file"] = *in.DesignFile
		}
		if in.ManagerID != nil {
			fields["manager_id"] = *in.ManagerID
		}
		if in.DefectiveQuantity != nil {
			if *in.DefectiveQuantity < 0 {
				return apperr.Validation("不良品数量不能小于0")
			}
			fields["defective_quantity"] = *in.DefectiveQuantity
		}
		if len(fields) > 0 {
			fields["updated_at"] = sc.now
			if err := sc.repos.WorkOrder.Updates(wo.ID, fields); err != nil {
				return err
			}
		}

		if in.Products != nil {
			items, err := s.buildProducts(sc, wo.ID, *in.Products)
			if err != nil {
				return err
			}
			if err := sc.repos.WorkOrder.ReplaceProducts(wo.ID, items); err != nil {
				return err
			}
		}
		if in.Materials != nil {
			if err := s.replaceMaterials(sc, wo.ID, *in.Materials); err != nil {
				return err
			}
		}
		if in.ArtworkIDs != nil || in.DieIDs != nil || in.FoilingPlateIDs != nil || in.EmbossingPlateIDs != nil {
			current, err := sc.repos.WorkOrder.GetByID(wo.ID)
			if err != nil {
				return err
			}
			if err := s.replaceAssets(sc, current,
				pick(in.ArtworkIDs, artworkIDs(current)),
				pick(in.DieIDs, dieIDs(current)),
				pick(in.FoilingPlateIDs, foilingIDs(current)),
				pick(in.EmbossingPlateIDs, embossingIDs(current))); err != nil {
				return err
			}
		}
		if in.Processes != nil {
			if _, err := s.syncProcesses(sc, wo.ID, *in.Processes, false); err != nil {
				return err
			}
		}
		if !wo.IsApproved() && in.affectsTasks() {
			return s.rebuildDrafts(sc, wo.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.repos.WorkOrder.GetByID(id)
}

// replaceMaterials 保留已有物料行的采购状态
func (s *WorkOrderService) replaceMaterials(sc *scope, woID string, lines []MaterialLine) error {
	current, err := sc.repos.WorkOrder.GetByID(woID)
	if err != nil {
		return err
	}
	status := make(map[string]string, len(current.Materials))
	for _, m := range current.Materials {
		status[m.MaterialID] = m.PurchaseStatus
	}
	items, err := s.buildMaterials(sc, woID, lines)
	if err != nil {
		return err
	}
	for i := range items {
		if st, ok := status[items[i].MaterialID]; ok {
			items[i].PurchaseStatus = st
		}
	}
	return sc.repos.WorkOrder.ReplaceMaterials(woID, items)
}

func pick(in *[]string, current []string) []string {
	if in != nil {
		return *in
	}
	return current
}

func artworkIDs(wo *entity.WorkOrder) []string {
	ids := make([]string, len(wo.Artworks))
	for i := range wo.Artworks {
		ids[i] = wo.Artworks[i].ID
	}
	return ids
}

func dieIDs(wo *entity.WorkOrder) []string {
	ids := make([]string, len(wo.Dies))
	for i := range wo.Dies {
		ids[i] = wo.Dies[i].ID
	}
	return ids
}

func foilingIDs(wo *entity.WorkOrder) []string {
	ids := make([]string, len(wo.FoilingPlates))
	for i := range wo.FoilingPlates {
		ids[i] = wo.FoilingPlates[i].ID
	}
	return ids
}

func embossingIDs(wo *entity.WorkOrder) []string {
	ids := make([]string, len(wo.EmbossingPlates))
	for i := range wo.EmbossingPlates {
		ids[i] = wo.EmbossingPlates[i].ID
	}
	return ids
}

// ---- 审核 ----

// SubmitForApproval 提交审核，审核状态不变，通知客户的业务员
func (s *WorkOrderService) SubmitForApproval(ctx context.Context, actor auth.Actor, id string) (*entity.WorkOrder, error) {
	err := s.run(ctx, actor, func(sc *scope) error {
		wo, err := sc.repos.WorkOrder.Lock(id)
		if err != nil {
			return err
		}
		if sc.actor.UserID != deref(wo.CreatedByID) && sc.actor.UserID != deref(wo.ManagerID) && !sc.actor.CanManageAll() {
			return apperr.PermissionDenied("只有创建人或负责人可以提交审核")
		}
		if wo.ApprovalStatus != entity.ApprovalPending {
			return apperr.StateViolation("只有待审核的施工单可以提交审核")
		}
		if wo.Status == entity.WOStatusCancelled {
			return apperr.StateViolation("施工单已取消")
		}
		if err := sc.repos.WorkOrder.CreateApprovalLog(&entity.ApprovalLog{
			ID:              newID(),
			WorkOrderID:     wo.ID,
			ApprovalStatus:  entity.ApprovalPending,
			ApprovedByID:    sc.actor.OperatorID(),
			ApprovalComment: "提交审核",
			CreatedAt:       sc.now,
		}); err != nil {
			return err
		}
		if wo.CustomerID == nil {
			return nil
		}
		customer, err := sc.repos.Org.GetCustomer(*wo.CustomerID)
		if err != nil {
			return err
		}
		sc.outbox.Add(notify.Message{
			RecipientID: deref(customer.SalespersonID),
			Type:        entity.NotifySystem,
			Title:       "施工单待审核",
			Content:     fmt.Sprintf("施工单%s已提交审核，请及时处理", wo.OrderNumber),
			WorkOrderID: strPtr(wo.ID),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.repos.WorkOrder.GetByID(id)
}

// checkApprover 业务员只能审核自己客户的施工单
func checkApprover(actor auth.Actor, wo *entity.WorkOrder) error {
	if !actor.HasRole(auth.RoleSalesperson) {
		return apperr.PermissionDenied("只有业务员可以审核施工单")
	}
	if wo.Customer == nil || deref(wo.Customer.SalespersonID) != actor.UserID {
		return apperr.PermissionDenied("只能审核自己负责的施工单")
	}
	return nil
}

// Approve 审核通过：校验、下达草稿任务、分派并自动开始可开始的工序
func (s *WorkOrderService) Approve(ctx context.Context, actor auth.Actor, id, comment string) (*entity.WorkOrder, error) {
	err := s.run(ctx, actor, func(sc *scope) error {
		wo, err := sc.repos.WorkOrder.LockLoaded(id)
		if err != nil {
			return err
		}
		if err := checkApprover(sc.actor, wo); err != nil {
			return err
		}
		if wo.ApprovalStatus != entity.ApprovalPending {
			return apperr.StateViolation("只有待审核的施工单可以审核")
		}
		if wo.Status == entity.WOStatusCancelled {
			return apperr.StateViolation("施工单已取消，不能审核")
		}
		if reasons := ValidateForApproval(wo, sc.now); len(reasons) > 0 {
			return apperr.Validation("施工单验证失败", reasons...)
		}

		now := sc.now
		fields := map[string]interface{}{
			"approval_status":  entity.ApprovalApproved,
			"approved_by_id":   sc.actor.UserID,
			"approved_at":      &now,
			"approval_comment": comment,
		}
		if wo.Status == entity.WOStatusPending {
			fields["status"] = entity.WOStatusInProgress
			wo.Status = entity.WOStatusInProgress
		}
		if err := sc.repos.WorkOrder.Updates(wo.ID, fields); err != nil {
			return err
		}
		wo.ApprovalStatus = entity.ApprovalApproved
		wo.ApprovedByID = strPtr(sc.actor.UserID)
		wo.ApprovedAt = &now

		if err := sc.repos.WorkOrder.CreateApprovalLog(&entity.ApprovalLog{
			ID:              newID(),
			WorkOrderID:     wo.ID,
			ApprovalStatus:  entity.ApprovalApproved,
			ApprovedByID:    sc.actor.OperatorID(),
			ApprovalComment: comment,
			CreatedAt:       now,
		}); err != nil {
			return err
		}

		if err := s.release(sc, wo); err != nil {
			return err
		}
		sc.outbox.Add(notify.Message{
			RecipientID: deref(wo.CreatedByID),
			Type:        entity.NotifyApprovalPassed,
			Title:       "施工单审核通过",
			Content:     fmt.Sprintf("施工单%s已审核通过", wo.OrderNumber),
			WorkOrderID: strPtr(wo.ID),
		})
		return s.process.autoStart(sc, wo)
	})
	if err != nil {
		return nil, err
	}
	return s.repos.WorkOrder.GetByID(id)
}

// release 草稿任务转为待开始，补生成缺失的任务并分派
func (s *WorkOrderService) release(sc *scope, wo *entity.WorkOrder) error {
	for i := range wo.Processes {
		proc := &wo.Processes[i]
		if proc.Status == entity.ProcessStatusSkipped || proc.Status == entity.ProcessStatusCompleted {
			continue
		}
		tasks, err := sc.repos.Task.ListByProcess(proc.ID)
		if err != nil {
			return err
		}
		var released []entity.WorkOrderTask
		for _, t := range tasks {
			if t.Status == entity.TaskStatusDraft {
				t.Status = entity.TaskStatusPending
				t.Version++
				released = append(released, t)
			}
		}
		if _, err := sc.repos.Task.ReleaseDrafts(proc.ID); err != nil {
			return err
		}
		created, err := s.generator.Generate(sc, wo, proc, entity.TaskStatusPending)
		if err != nil {
			return err
		}
		released = append(released, created...)
		if err := s.router.route(sc, wo, proc, released); err != nil {
			return err
		}
	}
	return nil
}

// Reject 审核拒绝
func (s *WorkOrderService) Reject(ctx context.Context, actor auth.Actor, id, reason string) (*entity.WorkOrder, error) {
	err := s.run(ctx, actor, func(sc *scope) error {
		if strings.TrimSpace(reason) == "" {
			return apperr.Validation("审核拒绝时，必须填写拒绝原因")
		}
		wo, err := sc.repos.WorkOrder.Lock(id)
		if err != nil {
			return err
		}
		if wo.CustomerID != nil {
			if wo.Customer, err = sc.repos.Org.GetCustomer(*wo.CustomerID); err != nil {
				return err
			}
		}
		if err := checkApprover(sc.actor, wo); err != nil {
			return err
		}
		if wo.ApprovalStatus != entity.ApprovalPending {
			return apperr.StateViolation("只有待审核的施工单可以审核")
		}
		now := sc.now
		if err := sc.repos.WorkOrder.Updates(wo.ID, map[string]interface{}{
			"approval_status":  entity.ApprovalRejected,
			"approved_by_id":   sc.actor.UserID,
			"approved_at":      &now,
			"approval_comment": reason,
		}); err != nil {
			return err
		}
		if err := sc.repos.WorkOrder.CreateApprovalLog(&entity.ApprovalLog{
			ID:              newID(),
			WorkOrderID:     wo.ID,
			ApprovalStatus:  entity.ApprovalRejected,
			ApprovedByID:    sc.actor.OperatorID(),
			RejectionReason: reason,
			CreatedAt:       now,
		}); err != nil {
			return err
		}
		sc.outbox.Add(notify.Message{
			RecipientID: deref(wo.CreatedByID),
			Type:        entity.NotifyApprovalRejected,
			Title:       "施工单审核未通过",
			Content:     fmt.Sprintf("施工单%s审核未通过，原因：%s", wo.OrderNumber, reason),
			Priority:    notify.PriorityHigh,
			WorkOrderID: strPtr(wo.ID),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.repos.WorkOrder.GetByID(id)
}

// Resubmit 被拒绝后重新提交审核
func (s *WorkOrderService) Resubmit(ctx context.Context, actor auth.Actor, id string) (*entity.WorkOrder, error) {
	err := s.run(ctx, actor, func(sc *scope) error {
		wo, err := sc.repos.WorkOrder.Lock(id)
		if err != nil {
			return err
		}
		if err := checkCanOperate(sc.actor, wo); err != nil {
			return err
		}
		if wo.ApprovalStatus != entity.ApprovalRejected {
			return apperr.StateViolation("只有被拒绝的施工单才能重新提交审核")
		}
		if err := sc.repos.WorkOrder.Updates(wo.ID, map[string]interface{}{
			"approval_status": entity.ApprovalPending,
			"approved_by_id":  (*string)(nil),
			"approved_at":     (*time.Time)(nil),
		}); err != nil {
			return err
		}
		return sc.repos.WorkOrder.CreateApprovalLog(&entity.ApprovalLog{
			ID:              newID(),
			WorkOrderID:     wo.ID,
			ApprovalStatus:  entity.ApprovalPending,
			ApprovedByID:    sc.actor.OperatorID(),
			ApprovalComment: "重新提交审核",
			CreatedAt:       sc.now,
		})
	})
	if err != nil {
		return nil, err
	}
	return s.repos.WorkOrder.GetByID(id)
}

// RequestReapproval 已审核的施工单退回待审核，通知原审核人与创建人
func (s *WorkOrderService) RequestReapproval(ctx context.Context, actor auth.Actor, id, reason string) (*entity.WorkOrder, error) {
	err := s.run(ctx, actor, func(sc *scope) error {
		if strings.TrimSpace(reason) == "" {
			return apperr.Validation("请填写重新审核原因")
		}
		wo, err := sc.repos.WorkOrder.Lock(id)
		if err != nil {
			return err
		}
		if err := checkCanOperate(sc.actor, wo); err != nil {
			return err
		}
		if wo.ApprovalStatus != entity.ApprovalApproved {
			return apperr.StateViolation("只有已审核通过的施工单可以请求重新审核")
		}
		fields := map[string]interface{}{
			"approval_status": entity.ApprovalPending,
			"approved_by_id":  (*string)(nil),
			"approved_at":     (*time.Time)(nil),
		}
		if wo.Status == entity.WOStatusInProgress {
			fields["status"] = entity.WOStatusPending
		}
		if err := sc.repos.WorkOrder.Updates(wo.ID, fields); err != nil {
			return err
		}
		if err := sc.repos.WorkOrder.CreateApprovalLog(&entity.ApprovalLog{
			ID:              newID(),
			WorkOrderID:     wo.ID,
			ApprovalStatus:  entity.ApprovalPending,
			ApprovedByID:    sc.actor.OperatorID(),
			ApprovalComment: "请求重新审核：" + reason,
			CreatedAt:       sc.now,
		}); err != nil {
			return err
		}
		recipients := []string{deref(wo.ApprovedByID)}
		if c := deref(wo.CreatedByID); c != "" && c != deref(wo.ApprovedByID) {
			recipients = append(recipients, c)
		}
		for _, uid := range recipients {
			sc.outbox.Add(notify.Message{
				RecipientID: uid,
				Type:        entity.NotifyReapprovalRequested,
				Title:       "施工单请求重新审核",
				Content:     fmt.Sprintf("施工单%s请求重新审核，原因：%s", wo.OrderNumber, reason),
				Priority:    notify.PriorityHigh,
				WorkOrderID: strPtr(wo.ID),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.repos.WorkOrder.GetByID(id)
}

// ---- 执行状态 ----

// Cancel 取消施工单，存在进行中的任务时拒绝
func (s *WorkOrderService) Cancel(ctx context.Context, actor auth.Actor, id, reason string) (*entity.WorkOrder, error) {
	err := s.run(ctx, actor, func(sc *scope) error {
		wo, err := sc.repos.WorkOrder.Lock(id)
		if err != nil {
			return err
		}
		if err := checkCanOperate(sc.actor, wo); err != nil {
			return err
		}
		switch wo.Status {
		case entity.WOStatusCancelled:
			return apperr.StateViolation("施工单已经取消")
		case entity.WOStatusCompleted:
			return apperr.StateViolation("已完成的施工单无法取消")
		}
		n, err := sc.repos.Task.CountInProgressByWorkOrder(wo.ID)
		if err != nil {
			return err
		}
		if n > 0 {
			return apperr.StateViolationf("施工单有%d个进行中的任务，无法取消", n)
		}
		content := "施工单取消"
		if reason != "" {
			content += "：" + reason
		}
		cancelled, err := sc.repos.Task.CancelOpenByWorkOrder(wo.ID, content)
		if err != nil {
			return err
		}
		if err := sc.repos.WorkOrder.Updates(wo.ID, map[string]interface{}{"status": entity.WOStatusCancelled}); err != nil {
			return err
		}
		if err := sc.repos.WorkOrder.CreateApprovalLog(&entity.ApprovalLog{
			ID:              newID(),
			WorkOrderID:     wo.ID,
			ApprovalStatus:  wo.ApprovalStatus,
			ApprovedByID:    sc.actor.OperatorID(),
			ApprovalComment: content,
			CreatedAt:       sc.now,
		}); err != nil {
			return err
		}

		// 通知制单人与负责人，操作人本人不通知
		notified := map[string]bool{sc.actor.UserID: true}
		for _, recipient := range []*string{wo.CreatedByID, wo.ManagerID} {
			id := deref(recipient)
			if id == "" || notified[id] {
				continue
			}
			notified[id] = true
			sc.outbox.Add(notify.Message{
				RecipientID: id,
				Type:        entity.NotifyWorkOrderCancelled,
				Title:       "施工单已取消",
				Content:     fmt.Sprintf("施工单%s已取消，%d个未完成任务随之取消。%s", wo.OrderNumber, cancelled, reason),
				Priority:    notify.PriorityHigh,
				WorkOrderID: strPtr(wo.ID),
				Data: map[string]interface{}{
					"order_number":    wo.OrderNumber,
					"cancelled_tasks": cancelled,
					"reason":          reason,
				},
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.repos.WorkOrder.GetByID(id)
}

// Pause 暂停进行中的施工单，暂停期间不能更新任务数量
func (s *WorkOrderService) Pause(ctx context.Context, actor auth.Actor, id string) (*entity.WorkOrder, error) {
	return s.transition(ctx, actor, id, entity.WOStatusInProgress, entity.WOStatusPaused, "只有进行中的施工单可以暂停")
}

// Resume 恢复暂停的施工单，并开始满足条件的工序
func (s *WorkOrderService) Resume(ctx context.Context, actor auth.Actor, id string) (*entity.WorkOrder, error) {
	return s.transition(ctx, actor, id, entity.WOStatusPaused, entity.WOStatusInProgress, "只有暂停的施工单可以恢复")
}

func (s *WorkOrderService) transition(ctx context.Context, actor auth.Actor, id, from, to, msg string) (*entity.WorkOrder, error) {
	err := s.run(ctx, actor, func(sc *scope) error {
		wo, err := sc.repos.WorkOrder.Lock(id)
		if err != nil {
			return err
		}
		if err := checkCanOperate(sc.actor, wo); err != nil {
			return err
		}
		if wo.Status != from {
			return apperr.StateViolation(msg)
		}
		if err := sc.repos.WorkOrder.Updates(wo.ID, map[string]interface{}{"status": to}); err != nil {
			return err
		}
		wo.Status = to
		if to == entity.WOStatusInProgress {
			// 暂停期间确认的版在恢复时补上
			if err := s.task.catchUpPlates(sc, wo.ID); err != nil {
				return err
			}
			return s.process.autoStart(sc, wo)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.repos.WorkOrder.GetByID(id)
}

// ---- 查询 ----

func (s *WorkOrderService) Get(ctx context.Context, id string) (*entity.WorkOrder, error) {
	return s.repos.WorkOrder.GetByID(id)
}

func (s *WorkOrderService) List(ctx context.Context, params repository.WOListParams) ([]entity.WorkOrder, int64, error) {
	return s.repos.WorkOrder.List(params)
}

// Validate 审核前预检，不修改任何数据
func (s *WorkOrderService) Validate(ctx context.Context, id string) ([]string, error) {
	wo, err := s.repos.WorkOrder.GetByID(id)
	if err != nil {
		return nil, err
	}
	return ValidateForApproval(wo, s.now()), nil
}

func (s *WorkOrderService) ApprovalLogs(ctx context.Context, id string) ([]entity.ApprovalLog, error) {
	return s.repos.WorkOrder.ListApprovalLogs(id)
}

// ---- 工序同步 ----

// SyncItem 同步涉及的一道工序
type SyncItem struct {
	ProcessID string `json:"process_id"`
	Code      string `json:"code"`
	Name      string `json:"name"`
	Sequence  int    `json:"sequence"`
	Tasks     int    `json:"tasks"`
}

// SyncResult 工序同步的预览或执行结果
type SyncResult struct {
	Removed      []SyncItem `json:"removed"`
	Added        []SyncItem `json:"added"`
	Kept         int        `json:"kept"`
	RemovedTasks int        `json:"removed_tasks"`
	AddedTasks   int        `json:"added_tasks"`
}

// PreviewProcesses 计算工序变更会删除和新增的任务数
func (s *WorkOrderService) PreviewProcesses(ctx context.Context, actor auth.Actor, id string, lines []ProcessLine) (*SyncResult, error) {
	var result *SyncResult
	err := s.run(ctx, actor, func(sc *scope) error {
		var err error
		result, err = s.syncProcesses(sc, id, lines, true)
		return err
	})
	return result, err
}

// UpdateProcesses 在施工单行锁下同步工序及其草稿任务
func (s *WorkOrderService) UpdateProcesses(ctx context.Context, actor auth.Actor, id string, lines []ProcessLine) (*SyncResult, error) {
	var result *SyncResult
	err := s.run(ctx, actor, func(sc *scope) error {
		var err error
		result, err = s.syncProcesses(sc, id, lines, false)
		return err
	})
	return result, err
}

// syncProcesses dryRun 时只计算不写入
func (s *WorkOrderService) syncProcesses(sc *scope, id string, lines []ProcessLine, dryRun bool) (*SyncResult, error) {
	wo, err := sc.repos.WorkOrder.LockLoaded(id)
	if err != nil {
		return nil, err
	}
	if err := checkCanOperate(sc.actor, wo); err != nil {
		return nil, err
	}
	switch wo.Status {
	case entity.WOStatusCancelled, entity.WOStatusCompleted:
		return nil, apperr.StateViolationf("施工单当前状态（%s）不能修改工序", wo.Status)
	}
	if wo.IsApproved() && !sc.actor.Can(auth.CapChangeApprovedWorkOrder) {
		return nil, apperr.PermissionDenied("施工单已审核通过，修改工序需要\"修改已审核施工单\"权限")
	}
	resolved, err := resolveProcessLines(sc, lines)
	if err != nil {
		return nil, err
	}

	wanted := make(map[string]resolvedLine, len(resolved))
	for _, l := range resolved {
		wanted[l.def.ID] = l
	}
	existing := make(map[string]*entity.WorkOrderProcess, len(wo.Processes))
	result := &SyncResult{}
	var removed []*entity.WorkOrderProcess
	for i := range wo.Processes {
		proc := &wo.Processes[i]
		existing[proc.ProcessID] = proc
		if _, ok := wanted[proc.ProcessID]; ok {
			result.Kept++
			continue
		}
		if proc.Status != entity.ProcessStatusPending {
			return nil, apperr.StateViolationf("工序\"%s\"已经开始，不能删除", processName(proc))
		}
		released, err := sc.repos.Task.CountNonDraftByProcess(proc.ID)
		if err != nil {
			return nil, err
		}
		if released > 0 {
			return nil, apperr.StateViolationf("工序\"%s\"已有下达的任务，不能删除", processName(proc))
		}
		drafts, err := sc.repos.Task.CountByProcess(proc.ID)
		if err != nil {
			return nil, err
		}
		removed = append(removed, proc)
		result.Removed = append(result.Removed, SyncItem{
			ProcessID: proc.ProcessID,
			Code:      proc.Code(),
			Name:      processName(proc),
			Sequence:  proc.Sequence,
			Tasks:     int(drafts),
		})
		result.RemovedTasks += int(drafts)
	}

	var added []resolvedLine
	for _, l := range resolved {
		if _, ok := existing[l.def.ID]; ok {
			continue
		}
		planned := len(s.generator.Plan(wo, l.newProcess(wo.ID, sc.now)))
		added = append(added, l)
		result.Added = append(result.Added, SyncItem{
			ProcessID: l.def.ID,
			Code:      l.def.Code,
			Name:      l.def.Name,
			Sequence:  l.Sequence,
			Tasks:     planned,
		})
		result.AddedTasks += planned
	}
	if dryRun {
		return result, nil
	}

	for _, proc := range removed {
		if _, err := sc.repos.Task.DeleteDraftByProcess(proc.ID); err != nil {
			return nil, err
		}
		if err := sc.repos.Process.Delete(proc.ID); err != nil {
			return nil, err
		}
	}

	// 先移到负数顺序，避免与 (work_order_id, sequence) 唯一索引冲突
	kept := make([]*entity.WorkOrderProcess, 0, result.Kept)
	for i := range wo.Processes {
		proc := &wo.Processes[i]
		if _, ok := wanted[proc.ProcessID]; ok {
			kept = append(kept, proc)
		}
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].Sequence < kept[j].Sequence })
	for i, proc := range kept {
		if err := sc.repos.Process.Updates(proc.ID, map[string]interface{}{"sequence": -(i + 1)}); err != nil {
			return nil, err
		}
	}
	for _, proc := range kept {
		l := wanted[proc.ProcessID]
		fields := map[string]interface{}{"sequence": l.Sequence}
		if l.DepartmentID != nil {
			fields["department_id"] = *l.DepartmentID
		}
		if l.OperatorID != nil {
			fields["operator_id"] = *l.OperatorID
		}
		if l.PlannedStartTime != nil {
			fields["planned_start_time"] = *l.PlannedStartTime
		}
		if l.PlannedEndTime != nil {
			fields["planned_end_time"] = *l.PlannedEndTime
		}
		if err := sc.repos.Process.Updates(proc.ID, fields); err != nil {
			return nil, err
		}
	}

	for _, l := range added {
		proc := l.newProcess(wo.ID, sc.now)
		if err := sc.repos.Process.Create(proc); err != nil {
			return nil, err
		}
		if !wo.IsApproved() {
			if _, err := s.generator.Generate(sc, wo, proc, entity.TaskStatusDraft); err != nil {
				return nil, err
			}
			continue
		}
		created, err := s.generator.Generate(sc, wo, proc, entity.TaskStatusPending)
		if err != nil {
			return nil, err
		}
		if err := s.router.route(sc, wo, proc, created); err != nil {
			return nil, err
		}
	}
	if wo.IsApproved() {
		if err := s.process.autoStart(sc, wo); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func processName(p *entity.WorkOrderProcess) string {
	if p.Process != nil {
		return p.Process.Name
	}
	return p.ProcessID
}
