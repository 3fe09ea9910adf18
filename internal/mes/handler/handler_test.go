package handler

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/bitfantasy/nimo-mes/internal/mes/auth"
	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/bitfantasy/nimo-mes/internal/mes/notify"
	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
	"github.com/bitfantasy/nimo-mes/internal/mes/service"
	"github.com/bitfantasy/nimo-mes/internal/mes/testutil"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeDesigns struct {
	keys []string
}

func (f *fakeDesigns) PresignUpload(ctx context.Context, key string) (string, error) {
	f.keys = append(f.keys, key)
	return "https://files.example/upload/" + key, nil
}

func (f *fakeDesigns) PresignDownload(ctx context.Context, key string) (string, error) {
	return "https://files.example/download/" + key, nil
}

type handlerEnv struct {
	db      *gorm.DB
	router  *gin.Engine
	sink    *notify.Recorder
	designs *fakeDesigns
	creator string
	sales   string
}

// setupHandlerTest 客户 c1 的业务员为 u1，产品 p1，已确认图稿 a1
func setupHandlerTest(t *testing.T, designs DesignFiles) *handlerEnv {
	t.Helper()
	db := testutil.SetupTestDB(t)
	procs := testutil.SeedCatalog(t, db)
	testutil.SeedUser(t, db, "u1", "业务员甲", false)
	testutil.SeedUser(t, db, "op1", "操作员一", false)
	testutil.SeedDepartment(t, db, "d1", "PRINT", 1, procs["CTP"], procs["PRT"], procs["PACK"])
	testutil.AddMember(t, db, "op1", "d1")
	testutil.SeedCustomer(t, db, "c1", "星河文创", "u1")
	testutil.SeedProduct(t, db, "p1", "礼盒", 0, 10)
	testutil.SeedArtwork(t, db, "a1", "ART202601001", true)

	sink := &notify.Recorder{}
	svc := service.NewServices(db, repository.NewRepositories(db), service.Options{Sink: sink})
	h := NewHandlers(Deps{Services: svc, DB: db, Hub: notify.NewHub(zap.NewNop()), Designs: designs, Version: "test"})
	r := testutil.SetupRouter()
	Register(r, h, testutil.JWTSecret)

	env := &handlerEnv{
		db:      db,
		router:  r,
		sink:    sink,
		creator: testutil.GenerateTestToken("creator", "制单员", nil, []string{auth.CapChangeWorkOrder, auth.CapViewWorkOrder}),
		sales:   testutil.GenerateTestToken("u1", "业务员甲", []string{auth.RoleSalesperson}, []string{auth.CapViewWorkOrder}),
	}
	if fd, ok := designs.(*fakeDesigns); ok {
		env.designs = fd
	}
	return env
}

func workOrderBody() map[string]interface{} {
	return map[string]interface{}{
		"customer_id":         "c1",
		"delivery_date":       time.Now().AddDate(0, 0, 7).Format(time.RFC3339),
		"production_quantity": 100,
		"notes":               "<script>alert(1)</script><b>加急</b>",
		"products":            []map[string]interface{}{{"product_id": "p1", "quantity": 100}},
		"processes": []map[string]interface{}{
			{"code": "CTP", "sequence": 10},
			{"code": "PRT", "sequence": 20},
			{"code": "PACK", "sequence": 30},
		},
		"artwork_ids": []string{"a1"},
	}
}

func (e *handlerEnv) createWorkOrder(t *testing.T) map[string]interface{} {
	t.Helper()
	w := testutil.DoRequest(e.router, "POST", "/api/v1/mes/work-orders", workOrderBody(), e.creator)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	return testutil.ParseResponse(w)["data"].(map[string]interface{})
}

func TestHealthAndVersion(t *testing.T) {
	env := setupHandlerTest(t, nil)

	for _, path := range []string{"/health/live", "/health/ready"} {
		if w := testutil.DoRequest(env.router, "GET", path, nil, ""); w.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", path, w.Code)
		}
	}
	w := testutil.DoRequest(env.router, "GET", "/version", nil, "")
	if resp := testutil.ParseResponse(w); resp["version"] != "test" {
		t.Errorf("unexpected version response %v", resp)
	}
}

func TestRequiresToken(t *testing.T) {
	env := setupHandlerTest(t, nil)

	w := testutil.DoRequest(env.router, "GET", "/api/v1/mes/work-orders", nil, "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}

	noView := testutil.GenerateTestToken("op1", "操作员一", nil, nil)
	w = testutil.DoRequest(env.router, "GET", "/api/v1/mes/work-orders", nil, noView)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without view permission, got %d", w.Code)
	}
}

func TestCreateAndApproveWorkOrder(t *testing.T) {
	env := setupHandlerTest(t, nil)
	wo := env.createWorkOrder(t)
	id := wo["id"].(string)

	if wo["notes"] != "加急" {
		t.Errorf("expected sanitized notes, got %q", wo["notes"])
	}
	if wo["approval_status"] != "pending" {
		t.Errorf("unexpected approval status %v", wo["approval_status"])
	}

	w := testutil.DoRequest(env.router, "GET", "/api/v1/mes/work-orders/"+id+"/validate", nil, env.creator)
	data := testutil.ParseResponse(w)["data"].(map[string]interface{})
	if data["valid"] != true {
		t.Fatalf("expected valid order, got %v", data)
	}

	w = testutil.DoRequest(env.router, "POST", "/api/v1/mes/work-orders/"+id+"/approve", map[string]string{"comment": "同意"}, env.sales)
	if w.Code != http.StatusOK {
		t.Fatalf("approve: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	data = testutil.ParseResponse(w)["data"].(map[string]interface{})
	if data["approval_status"] != "approved" {
		t.Fatalf("expected approved, got %v", data["approval_status"])
	}

	w = testutil.DoRequest(env.router, "GET", "/api/v1/mes/work-orders?status=in_progress", nil, env.creator)
	data = testutil.ParseResponse(w)["data"].(map[string]interface{})
	items := data["items"].([]interface{})
	if len(items) != 1 {
		t.Fatalf("expected 1 in-progress order, got %d", len(items))
	}
	pagination := data["pagination"].(map[string]interface{})
	if pagination["total"].(float64) != 1 || pagination["total_pages"].(float64) != 1 {
		t.Errorf("unexpected pagination %v", pagination)
	}
}

func TestApproveValidationDetails(t *testing.T) {
	env := setupHandlerTest(t, nil)
	body := workOrderBody()
	delete(body, "delivery_date")
	w := testutil.DoRequest(env.router, "POST", "/api/v1/mes/work-orders", body, env.creator)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	id := testutil.ParseResponse(w)["data"].(map[string]interface{})["id"].(string)

	w = testutil.DoRequest(env.router, "POST", "/api/v1/mes/work-orders/"+id+"/approve", nil, env.sales)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
	resp := testutil.ParseResponse(w)
	if resp["code"].(float64) != 40000 {
		t.Errorf("unexpected code %v", resp["code"])
	}
	details, _ := resp["details"].([]interface{})
	found := false
	for _, d := range details {
		if d == "缺少交货日期" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected missing delivery date in details, got %v", details)
	}
}

func TestUpdateQuantityConflict(t *testing.T) {
	env := setupHandlerTest(t, nil)
	id := env.createWorkOrder(t)["id"].(string)
	if w := testutil.DoRequest(env.router, "POST", "/api/v1/mes/work-orders/"+id+"/approve", nil, env.sales); w.Code != http.StatusOK {
		t.Fatalf("approve: %d %s", w.Code, w.Body.String())
	}

	w := testutil.DoRequest(env.router, "GET", "/api/v1/mes/tasks?status=pending&work_order_id="+id, nil, env.creator)
	items := testutil.ParseResponse(w)["data"].(map[string]interface{})["items"].([]interface{})
	var task map[string]interface{}
	for _, it := range items {
		m := it.(map[string]interface{})
		if m["task_type"] == "printing" {
			task = m
		}
	}
	if task == nil {
		t.Fatalf("printing task not found in %v", items)
	}
	taskID := task["id"].(string)
	version := task["version"].(float64)

	w = testutil.DoRequest(env.router, "POST", "/api/v1/mes/tasks/"+taskID+"/update-quantity",
		map[string]interface{}{"version": 99, "quantity_increment": 10}, env.creator)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
	resp := testutil.ParseResponse(w)
	if resp["code"].(float64) != 40900 || resp["current_version"].(float64) != version {
		t.Fatalf("unexpected conflict response %v (version %v)", resp, version)
	}

	w = testutil.DoRequest(env.router, "POST", "/api/v1/mes/tasks/"+taskID+"/update-quantity",
		map[string]interface{}{"version": version, "quantity_increment": 10}, env.creator)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	data := testutil.ParseResponse(w)["data"].(map[string]interface{})
	if data["quantity_completed"].(float64) != 10 || data["version"].(float64) != version+1 {
		t.Fatalf("unexpected task after update %v", data)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	env := setupHandlerTest(t, nil)

	w := testutil.DoRequest(env.router, "GET", "/api/v1/mes/work-orders/missing", nil, env.creator)
	if w.Code != http.StatusNotFound || testutil.ParseResponse(w)["code"].(float64) != 40400 {
		t.Errorf("expected 404/40400, got %d %s", w.Code, w.Body.String())
	}

	id := env.createWorkOrder(t)["id"].(string)
	stranger := testutil.GenerateTestToken("op1", "操作员一", nil, nil)
	w = testutil.DoRequest(env.router, "POST", "/api/v1/mes/work-orders/"+id+"/approve", nil, stranger)
	if w.Code != http.StatusForbidden || testutil.ParseResponse(w)["code"].(float64) != 40300 {
		t.Errorf("expected 403/40300, got %d %s", w.Code, w.Body.String())
	}

	w = testutil.DoRequest(env.router, "POST", "/api/v1/mes/work-orders/"+id+"/pause", nil, env.creator)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for pausing pending order, got %d %s", w.Code, w.Body.String())
	}

	w = testutil.DoRequest(env.router, "POST", "/api/v1/mes/assets/stencil", map[string]string{"name": "x"}, env.creator)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown asset kind, got %d", w.Code)
	}

	w = testutil.DoRequest(env.router, "GET", "/api/v1/mes/unknown", nil, env.creator)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown route, got %d", w.Code)
	}
}

func TestDesignFileURLs(t *testing.T) {
	designs := &fakeDesigns{}
	env := setupHandlerTest(t, designs)
	wo := env.createWorkOrder(t)
	id := wo["id"].(string)

	w := testutil.DoRequest(env.router, "GET", "/api/v1/mes/work-orders/"+id+"/design-file/upload-url?filename=../box.pdf", nil, env.creator)
	if w.Code != http.StatusOK {
		t.Fatalf("upload url: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	key := testutil.ParseResponse(w)["data"].(map[string]interface{})["key"].(string)
	if key != "designs/"+wo["order_number"].(string)+"/box.pdf" {
		t.Fatalf("unexpected key %s", key)
	}

	// 还没有设计文件
	w = testutil.DoRequest(env.router, "GET", "/api/v1/mes/work-orders/"+id+"/design-file/download-url", nil, env.creator)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without design file, got %d", w.Code)
	}

	w = testutil.DoRequest(env.router, "PUT", "/api/v1/mes/work-orders/"+id, map[string]string{"design_file": key}, env.creator)
	if w.Code != http.StatusOK {
		t.Fatalf("update design file: %d %s", w.Code, w.Body.String())
	}
	w = testutil.DoRequest(env.router, "GET", "/api/v1/mes/work-orders/"+id+"/design-file/download-url", nil, env.creator)
	url := testutil.ParseResponse(w)["data"].(map[string]interface{})["url"].(string)
	if !strings.HasSuffix(url, key) {
		t.Fatalf("unexpected download url %s", url)
	}
}

func TestDesignFileWithoutStorage(t *testing.T) {
	env := setupHandlerTest(t, nil)
	id := env.createWorkOrder(t)["id"].(string)

	w := testutil.DoRequest(env.router, "GET", "/api/v1/mes/work-orders/"+id+"/design-file/upload-url?filename=a.pdf", nil, env.creator)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestStockLogExport(t *testing.T) {
	env := setupHandlerTest(t, nil)

	w := testutil.DoRequest(env.router, "GET", "/api/v1/mes/products/p1/stock-logs/export", nil, env.creator)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("unexpected content type %s", ct)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "attachment") {
		t.Errorf("unexpected disposition %s", cd)
	}

	w = testutil.DoRequest(env.router, "GET", "/api/v1/mes/products/missing/stock-logs", nil, env.creator)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestNotificationsInbox(t *testing.T) {
	env := setupHandlerTest(t, nil)
	id := env.createWorkOrder(t)["id"].(string)
	if w := testutil.DoRequest(env.router, "POST", "/api/v1/mes/work-orders/"+id+"/submit", nil, env.creator); w.Code != http.StatusOK {
		t.Fatalf("submit: %d %s", w.Code, w.Body.String())
	}
	// 提交审核通知业务员
	if len(env.sink.OfType(entity.NotifySystem)) != 1 {
		t.Fatalf("expected notification to the salesperson, got %+v", env.sink.Messages())
	}

	w := testutil.DoRequest(env.router, "GET", "/api/v1/mes/notifications", nil, env.sales)
	if w.Code != http.StatusOK {
		t.Fatalf("inbox: %d %s", w.Code, w.Body.String())
	}
}
