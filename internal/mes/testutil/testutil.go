package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bitfantasy/nimo-mes/internal/mes/catalog"
	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/golang-jwt/jwt/v5"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const JWTSecret = "nimo-mes-test-secret"

// TestEnv holds test environment resources
type TestEnv struct {
	DB     *gorm.DB
	Router *gin.Engine
	T      *testing.T
}

// SetupTestDB 每个测试独立的内存 SQLite；单连接保证同一个库，也意味着事务内必须使用 tx
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		TranslateError:                           true,
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("Failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := entity.AutoMigrate(db); err != nil {
		t.Fatalf("Failed to migrate test tables: %v", err)
	}

	t.Cleanup(func() {
		sqlDB.Close()
	})
	return db
}

// SetupRouter creates a gin test router
func SetupRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(gin.Recovery())
	return r
}

// GenerateTestToken creates a valid JWT token for testing
func GenerateTestToken(userID, name string, roles, permissions []string) string {
	if roles == nil {
		roles = []string{}
	}
	if permissions == nil {
		permissions = []string{}
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   userID,
		"uid":   userID,
		"name":  name,
		"roles": roles,
		"perms": permissions,
		"iss":   "nimo-mes",
		"iat":   now.Unix(),
		"exp":   now.Add(24 * time.Hour).Unix(),
		"jti":   fmt.Sprintf("test-jti-%d", now.UnixNano()),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, _ := token.SignedString([]byte(JWTSecret))
	return tokenString
}

// DoRequest executes an HTTP request against the test router
func DoRequest(r *gin.Engine, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	reqBody := bytes.NewBuffer(nil)
	if body != nil {
		jsonBytes, _ := json.Marshal(body)
		reqBody = bytes.NewBuffer(jsonBytes)
	}
	req, _ := http.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// ParseResponse parses the JSON response body
func ParseResponse(w *httptest.ResponseRecorder) map[string]interface{} {
	var result map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &result)
	return result
}

// SeedCatalog 写入内置工序，按编码返回
func SeedCatalog(t *testing.T, db *gorm.DB) map[string]entity.Process {
	t.Helper()
	if err := catalog.Seed(db); err != nil {
		t.Fatalf("Failed to seed catalog: %v", err)
	}
	var list []entity.Process
	db.Find(&list)
	m := make(map[string]entity.Process, len(list))
	for _, p := range list {
		m[p.Code] = p
	}
	return m
}

func SeedUser(t *testing.T, db *gorm.DB, id, name string, superuser bool) *entity.User {
	t.Helper()
	user := &entity.User{
		ID:          id,
		Username:    "user_" + id,
		Name:        name,
		Email:       id + "@test.com",
		IsActive:    true,
		IsSuperuser: superuser,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("Failed to seed user: %v", err)
	}
	return user
}

// SeedDepartment 部门并声明可承接的工序
func SeedDepartment(t *testing.T, db *gorm.DB, id, code string, sortOrder int, processes ...entity.Process) *entity.Department {
	t.Helper()
	dept := &entity.Department{ID: id, Code: code, Name: code, SortOrder: sortOrder, IsActive: true}
	if err := db.Omit("Processes").Create(dept).Error; err != nil {
		t.Fatalf("Failed to seed department: %v", err)
	}
	for _, p := range processes {
		if err := db.Table("mes_department_processes").Create(map[string]interface{}{
			"department_id": id, "process_id": p.ID,
		}).Error; err != nil {
			t.Fatalf("Failed to link department process: %v", err)
		}
	}
	return dept
}

func AddMember(t *testing.T, db *gorm.DB, userID, departmentID string) {
	t.Helper()
	if err := db.Table("mes_user_departments").Create(map[string]interface{}{
		"user_id": userID, "department_id": departmentID,
	}).Error; err != nil {
		t.Fatalf("Failed to add member: %v", err)
	}
}

func SeedRule(t *testing.T, db *gorm.DB, id, processID, departmentID string, priority int, strategy string) *entity.AssignmentRule {
	t.Helper()
	rule := &entity.AssignmentRule{
		ID: id, ProcessID: processID, DepartmentID: departmentID,
		Priority: priority, OperatorSelectionStrategy: strategy, IsActive: true,
	}
	if err := db.Create(rule).Error; err != nil {
		t.Fatalf("Failed to seed rule: %v", err)
	}
	return rule
}

func SeedCustomer(t *testing.T, db *gorm.DB, id, name string, salespersonID string) *entity.Customer {
	t.Helper()
	c := &entity.Customer{ID: id, Code: "C-" + id, Name: name}
	if salespersonID != "" {
		c.SalespersonID = &salespersonID
	}
	if err := db.Omit("Salesperson").Create(c).Error; err != nil {
		t.Fatalf("Failed to seed customer: %v", err)
	}
	return c
}

func SeedProduct(t *testing.T, db *gorm.DB, id, name string, stock, minStock int) *entity.Product {
	t.Helper()
	p := &entity.Product{
		ID: id, Code: "P-" + id, Name: name, Unit: "个",
		StockQuantity: stock, MinStockQuantity: minStock, IsActive: true,
	}
	if err := db.Create(p).Error; err != nil {
		t.Fatalf("Failed to seed product: %v", err)
	}
	return p
}

func SeedMaterial(t *testing.T, db *gorm.DB, id, name string) *entity.Material {
	t.Helper()
	m := &entity.Material{ID: id, Code: "M-" + id, Name: name, Unit: "张"}
	if err := db.Create(m).Error; err != nil {
		t.Fatalf("Failed to seed material: %v", err)
	}
	return m
}

func SeedArtwork(t *testing.T, db *gorm.DB, id, baseCode string, confirmed bool) *entity.Artwork {
	t.Helper()
	a := &entity.Artwork{ID: id, BaseCode: baseCode, Version: 1, Name: "图稿" + baseCode}
	a.Confirmed = confirmed
	if err := db.Create(a).Error; err != nil {
		t.Fatalf("Failed to seed artwork: %v", err)
	}
	return a
}
