package erpsync_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/commissions_backend/config"
	"bitbucket.org/mmdatafocus/commissions_backend/erpsync"
	"bitbucket.org/mmdatafocus/commissions_backend/models"
	"bitbucket.org/mmdatafocus/commissions_backend/utils"
	"github.com/shopspring/decimal"
)

// Fixture: one project with an EXTERNAL rate of 5%, one broker, one
// customer, one unit and one contract worth 350000 whose commissionable
// conditions total 100000 (down payment 50000 + 3 monthly 30000 + balloon
// 20000; the 250000 financing entry is excluded). Expected factor 0.175.
// From the second pull onward the contract is served without its date
// fields so re-sync behavior on sparse payloads is exercised too.
func fakeErpHandler(t *testing.T) http.Handler {
	t.Helper()
	page := func(w http.ResponseWriter, results ...string) {
		raws := make([]json.RawMessage, 0, len(results))
		for _, r := range results {
			raws = append(raws, json.RawMessage(r))
		}
		body, err := json.Marshal(map[string]interface{}{
			"results": raws,
			"resultSetMetadata": map[string]int{
				"count": len(raws), "offset": 0, "limit": 200,
			},
		})
		if err != nil {
			t.Fatalf("marshal fixture page: %v", err)
		}
		w.Write(body)
	}

	salesPulls := 0
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "sync" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/enterprises":
			page(w, `{"id":10,"name":"Sunset Towers","city":"Porto","commissionRates":[{"brokerClass":"EXTERNAL","percentage":5}]}`)
		case "/creditors":
			page(w,
				`{"id":20,"name":"Ana Brito","email":"ana@brokers.test","isBroker":true,"brokerClass":"EXTERNAL"}`,
				`{"id":21,"name":"Not A Broker","isBroker":false}`)
		case "/customers":
			page(w, `{"id":30,"name":"Rui Costa","email":"rui@buyers.test","document":"X123"}`)
		case "/units":
			page(w, `{"id":40,"enterpriseId":10,"name":"T2 4B","status":"SOLD","privateArea":"92.5"}`)
		case "/sales-contracts":
			salesPulls++
			if salesPulls == 1 {
				page(w, `{
					"id":50,"enterpriseId":10,"unitId":40,"brokerId":20,"customerId":30,
					"value":350000,"status":"ACTIVE","contractDate":"2025-02-01",
					"coborrowers":[{"customerId":31,"main":false}],
					"paymentConditions":[
						{"conditionTypeId":"AT","totalValue":50000,"installmentsNumber":1,"firstPaymentDate":"2025-02-01"},
						{"conditionTypeId":"PM","totalValue":30000,"installmentsNumber":3,"firstPaymentDate":"2025-03-01"},
						{"conditionTypeId":"BA","totalValue":20000,"installmentsNumber":1,"firstPaymentDate":"2026-02-01"},
						{"conditionTypeId":"FI","totalValue":250000,"installmentsNumber":120,"firstPaymentDate":"2025-03-01"}
					]
				}`)
				return
			}
			// Later pulls drop the contract date and the down payment's
			// first payment date; the stored date must keep anchoring.
			page(w, `{
				"id":50,"enterpriseId":10,"unitId":40,"brokerId":20,"customerId":30,
				"value":350000,"status":"ACTIVE",
				"coborrowers":[{"customerId":31,"main":false}],
				"paymentConditions":[
					{"conditionTypeId":"AT","totalValue":50000,"installmentsNumber":1},
					{"conditionTypeId":"PM","totalValue":30000,"installmentsNumber":3,"firstPaymentDate":"2025-03-01"},
					{"conditionTypeId":"BA","totalValue":20000,"installmentsNumber":1,"firstPaymentDate":"2026-02-01"},
					{"conditionTypeId":"FI","totalValue":250000,"installmentsNumber":120,"firstPaymentDate":"2025-03-01"}
				]
			}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func TestFullSyncPipelineConvergesOverTwoRuns(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	// Wire env for config.Connect* helpers.
	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "commissions_test")
	t.Setenv("ERP_RATE_LIMIT_PER_MIN", "6000000")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	db := config.GetDB()
	if db == nil {
		t.Fatalf("db is nil after ConnectDatabaseWithRetry")
	}

	srv := httptest.NewServer(fakeErpHandler(t))
	t.Cleanup(srv.Close)

	if err := db.Create(&models.ErpConnection{
		BaseURL:       srv.URL,
		AuthUser:      "sync",
		AuthSecretRef: "secret",
	}).Error; err != nil {
		t.Fatalf("seed erp connection: %v", err)
	}

	ctx = utils.SetActorInContext(ctx, "test@local")

	// First run. Units resolve after sales, so the sale's unit reference is
	// still empty; everything else lands.
	result, err := erpsync.RunSync(ctx, erpsync.SyncParams{Mode: models.SyncModeFull})
	if err != nil {
		t.Fatalf("RunSync(1): %v", err)
	}
	if result.Status != models.SyncRunStatusOK {
		t.Fatalf("run 1 expected status OK, got %s (errors: %v)", result.Status, result.Errors)
	}

	sale, err := models.GetSaleByExternalId(ctx, db, "50")
	if err != nil || sale == nil {
		t.Fatalf("sale 50 after run 1: %v (sale=%v)", err, sale)
	}
	if !sale.CommissionBase.Equal(decimal.NewFromInt(100000)) {
		t.Fatalf("expected commission base 100000, got %s", sale.CommissionBase)
	}
	if !sale.CommissionFactor.Equal(decimal.RequireFromString("0.175")) {
		t.Fatalf("expected factor 0.175, got %s", sale.CommissionFactor)
	}
	if sale.UnitId != 0 {
		t.Fatalf("unit must not resolve on the first pass, got unit id %d", sale.UnitId)
	}

	rows, err := models.ListSaleInstallments(ctx, db, sale.ID)
	if err != nil {
		t.Fatalf("ListSaleInstallments: %v", err)
	}
	if len(rows) != 5 {
		t.Fatalf("expected 5 installments (1 down + 3 monthly + 1 balloon), got %d", len(rows))
	}
	sum, err := models.SumEligibleInstallments(ctx, db, sale.ID)
	if err != nil {
		t.Fatalf("SumEligibleInstallments: %v", err)
	}
	if !sum.Equal(sale.CommissionBase) {
		t.Fatalf("installment amounts must sum to the base: %s vs %s", sum, sale.CommissionBase)
	}

	// The non-broker creditor is filtered client-side.
	if agent, _ := models.GetAgentByExternalId(ctx, db, "21"); agent != nil {
		t.Fatalf("creditor 21 is not a broker and must not sync")
	}
	agent, err := models.GetAgentByExternalId(ctx, db, "20")
	if err != nil || agent == nil {
		t.Fatalf("broker 20 after run 1: %v", err)
	}
	if agent.Class != models.AgentClassExternal {
		t.Fatalf("expected broker class EXTERNAL, got %s", agent.Class)
	}

	// Coborrower 31 never appears on /customers; reconciliation creates a
	// placeholder so the relationship is not dropped.
	cob, err := models.GetCustomerByExternalId(ctx, db, "31")
	if err != nil || cob == nil {
		t.Fatalf("coborrower 31 after run 1: %v", err)
	}
	if !cob.IsPlaceholder {
		t.Fatalf("coborrower 31 expected placeholder, got %+v", cob)
	}
	if cob.Email != models.PlaceholderCustomerEmail("31") {
		t.Fatalf("expected reserved placeholder email, got %q", cob.Email)
	}

	// No INTERNAL rate exists for the project, so the lookup falls back to
	// the configured default.
	project, err := models.GetProjectByExternalId(ctx, db, "10")
	if err != nil || project == nil {
		t.Fatalf("project 10 after run 1: %v", err)
	}
	pct, err := models.GetCommissionPercentage(ctx, db, project.ID, models.AgentClassInternal)
	if err != nil {
		t.Fatalf("GetCommissionPercentage(INTERNAL): %v", err)
	}
	if !pct.Equal(models.DefaultCommissionPercentage()) {
		t.Fatalf("missing rate must fall back to the default percentage, got %s", pct)
	}

	conn, err := models.GetErpConnection(ctx, db)
	if err != nil {
		t.Fatalf("GetErpConnection: %v", err)
	}
	if conn.LastSuccessSyncAt == nil {
		t.Fatalf("successful run must stamp last_success_sync_at")
	}
	if len(conn.WatermarkJSON) == 0 {
		t.Fatalf("successful run must persist the watermark")
	}

	// Second run: the unit now exists, so the sale converges onto it, and
	// re-materialization must not duplicate installments or coborrowers.
	result, err = erpsync.RunSync(ctx, erpsync.SyncParams{Mode: models.SyncModeFull})
	if err != nil {
		t.Fatalf("RunSync(2): %v", err)
	}
	if result.Status != models.SyncRunStatusOK {
		t.Fatalf("run 2 expected status OK, got %s (errors: %v)", result.Status, result.Errors)
	}

	sale, err = models.GetSaleByExternalId(ctx, db, "50")
	if err != nil || sale == nil {
		t.Fatalf("sale 50 after run 2: %v", err)
	}
	if sale.UnitId == 0 {
		t.Fatalf("second run must resolve the unit reference")
	}
	if sale.ContractDate == nil || sale.ContractDate.Format("2006-01-02") != "2025-02-01" {
		t.Fatalf("payload without a contract date must keep the stored one, got %v", sale.ContractDate)
	}
	rows, err = models.ListSaleInstallments(ctx, db, sale.ID)
	if err != nil {
		t.Fatalf("ListSaleInstallments after run 2: %v", err)
	}
	if len(rows) != 5 {
		t.Fatalf("re-materialization must replace, not append: got %d rows", len(rows))
	}
	// The down payment condition lost its first payment date on the second
	// pull; its due date must anchor on the retained contract date, not on
	// the re-sync time.
	for _, row := range rows {
		if row.Category != models.CategoryDownPayment {
			continue
		}
		if row.DueDate.Format("2006-01-02") != "2025-02-01" {
			t.Fatalf("down payment due date must anchor on the contract date, got %s", row.DueDate.Format("2006-01-02"))
		}
	}

	var coborrowerCount int64
	if err := db.Model(&models.SaleCoborrower{}).Where("sale_id = ?", sale.ID).Count(&coborrowerCount).Error; err != nil {
		t.Fatalf("count coborrowers: %v", err)
	}
	if coborrowerCount != 1 {
		t.Fatalf("expected exactly 1 coborrower row, got %d", coborrowerCount)
	}
}

// A run whose context dies mid-flight must still land as a finished
// ERROR row; a canceled run left RUNNING blocks every later trigger on
// the already-running check.
func TestCanceledRunIsFinalizedAsError(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "commissions_test")
	t.Setenv("ERP_RATE_LIMIT_PER_MIN", "6000000")
	t.Setenv("ERP_MAX_RETRIES", "1")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	db := config.GetDB()
	if db == nil {
		t.Fatalf("db is nil after ConnectDatabaseWithRetry")
	}

	// The first upstream request kills the run's context and then waits for
	// the client to abandon the call.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cancel()
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	if err := db.Create(&models.ErpConnection{
		BaseURL:       srv.URL,
		AuthUser:      "sync",
		AuthSecretRef: "secret",
	}).Error; err != nil {
		t.Fatalf("seed erp connection: %v", err)
	}

	runCtx := utils.SetActorInContext(ctx, "test@local")
	result, err := erpsync.RunSync(runCtx, erpsync.SyncParams{Mode: models.SyncModeFull})
	if err != nil {
		t.Fatalf("RunSync: %v", err)
	}
	if result.Status != models.SyncRunStatusError {
		t.Fatalf("canceled run expected status ERROR, got %s", result.Status)
	}

	// The run row is finalized with a detached context; assertions read it
	// with a live one.
	run, err := models.GetSyncRun(context.Background(), db, result.RunId)
	if err != nil {
		t.Fatalf("GetSyncRun(%d): %v", result.RunId, err)
	}
	if run.Status != models.SyncRunStatusError {
		t.Fatalf("expected persisted status ERROR, got %s", run.Status)
	}
	if run.FinishedAt == nil {
		t.Fatalf("canceled run must still be stamped finished")
	}
	if run.Stage != models.SyncStageCompleted {
		t.Fatalf("expected stage COMPLETED after finalization, got %s", run.Stage)
	}

	conn, err := models.GetErpConnection(context.Background(), db)
	if err != nil {
		t.Fatalf("GetErpConnection: %v", err)
	}
	if conn.LastSuccessSyncAt != nil {
		t.Fatalf("canceled run must not stamp last_success_sync_at")
	}
	if len(conn.WatermarkJSON) != 0 {
		t.Fatalf("canceled run must not advance the watermark")
	}
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("commissions-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("commissions-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=commissions_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
