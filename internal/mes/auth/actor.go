package auth

// 核心识别的能力
const (
	CapViewWorkOrder           = "view_workorder"
	CapChangeWorkOrder         = "change_workorder"
	CapChangeApprovedWorkOrder = "change_approved_workorder"
	CapManageAllWorkOrders     = "manage_all_workorders"

	// RoleSalesperson 业务员，负责审核自己客户的施工单
	RoleSalesperson = "业务员"
	RoleSuperAdmin  = "mes_admin"

	wildcard = "*"
)

// Actor 已认证的操作人，由外部认证层提供
type Actor struct {
	UserID       string
	Name         string
	Roles        []string
	Capabilities []string
}

func (a Actor) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Can 检查能力，"*" 视为全部能力
func (a Actor) Can(capability string) bool {
	for _, c := range a.Capabilities {
		if c == capability || c == wildcard {
			return true
		}
	}
	return false
}

func (a Actor) IsSuperAdmin() bool {
	return a.HasRole(RoleSuperAdmin)
}

// CanManageAll 超级管理员或拥有全部施工单管理权
func (a Actor) CanManageAll() bool {
	return a.IsSuperAdmin() || a.Can(CapManageAllWorkOrders)
}

// System 信号处理等无人触发的操作
func System() Actor {
	return Actor{UserID: "", Name: "system"}
}

func (a Actor) IsSystem() bool {
	return a.UserID == ""
}

// OperatorID 用于日志外键，系统操作返回 nil
func (a Actor) OperatorID() *string {
	if a.UserID == "" {
		return nil
	}
	id := a.UserID
	return &id
}
