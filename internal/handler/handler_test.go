package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/hiretest/internal/exam"
	appI18n "github.com/pavelanni/hiretest/internal/i18n"
	"github.com/pavelanni/hiretest/internal/llm"
	"github.com/pavelanni/hiretest/internal/llm/prompts"
	"github.com/pavelanni/hiretest/internal/model"
	"github.com/pavelanni/hiretest/internal/store"
)

const testPassword = "password123"

const generatedTest = `{
  "test_title": "Go Backend Test",
  "sections": [{
    "section_name": "Multiple Choice",
    "section_type": "mcq",
    "questions": [
      {"question_text": "Zero value of int?", "question_type": "mcq", "options": ["0", "nil", "1", "undefined"], "correct_answer": "0", "marks": 1},
      {"question_text": "Keyword for goroutines?", "question_type": "mcq", "options": ["async", "go", "spawn", "thread"], "correct_answer": "B", "marks": 1}
    ]
  }]
}`

// fakeLLM answers by prompt kind.
type fakeLLM struct {
	generate string
}

func (f fakeLLM) Complete(_ context.Context, system, _ string) (string, error) {
	switch system {
	case prompts.GenerateSystem:
		return f.generate, nil
	case prompts.AnalyzeSystem:
		return `{"summary": "Solid fundamentals", "recommendations": ["Practice concurrency"]}`, nil
	default:
		return `{"score": 3, "feedback": "Reasonable answer"}`, nil
	}
}

type testEnv struct {
	t      *testing.T
	router http.Handler
	store  store.Store
	users  map[string]model.User
}

func newTestEnv(t *testing.T, generate string) *testEnv {
	t.Helper()
	if err := appI18n.Init("en"); err != nil {
		t.Fatalf("init i18n: %v", err)
	}
	st, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	client := llm.New(fakeLLM{generate: generate}, time.Second)
	svc := exam.NewService(st, exam.NewBuilder(client), exam.NewEvaluator(client, ""), nil, false)
	h, err := New(st, svc, model.ServiceConfig{
		JWTSecret:     []byte("test-secret"),
		TokenTTL:      time.Hour,
		SecureHeaders: true,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r := chi.NewRouter()
	r.Use(appI18n.Middleware("en"))
	h.Routes(r)

	env := &testEnv{t: t, router: r, store: st, users: map[string]model.User{}}
	env.addUser("admin", model.UserRoleAdmin)
	env.addUser("rec1", model.UserRoleRecruiter)
	env.addUser("rec2", model.UserRoleRecruiter)
	env.addUser("stu1", model.UserRoleStudent)
	env.addUser("stu2", model.UserRoleStudent)
	return env
}

func (e *testEnv) addUser(username string, role model.UserRole) {
	e.t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	if err != nil {
		e.t.Fatalf("hash: %v", err)
	}
	u := model.User{
		Username:     username,
		DisplayName:  strings.ToUpper(username),
		Email:        username + "@example.com",
		PasswordHash: string(hash),
		Role:         role,
		Active:       true,
	}
	id, err := e.store.CreateUser(context.Background(), u)
	if err != nil {
		e.t.Fatalf("create user %s: %v", username, err)
	}
	u.ID = id
	e.users[username] = u
}

func (e *testEnv) do(method, path, token string, body any, headers ...string) *httptest.ResponseRecorder {
	e.t.Helper()
	var rd *bytes.Reader
	switch b := body.(type) {
	case nil:
		rd = bytes.NewReader(nil)
	case string:
		rd = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		if err != nil {
			e.t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) login(username string) string {
	e.t.Helper()
	rec := e.do(http.MethodPost, "/api/login", "", loginRequest{Username: username, Password: testPassword})
	if rec.Code != http.StatusOK {
		e.t.Fatalf("login %s: status %d: %s", username, rec.Code, rec.Body)
	}
	var resp loginResponse
	decode(e.t, rec, &resp)
	return resp.Token
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d: %s", rec.Code, want, rec.Body)
	}
}

func (e *testEnv) createTest(token string) model.TestDefinition {
	e.t.Helper()
	rec := e.do(http.MethodPost, "/api/tests", token, map[string]any{
		"role":            "Backend Engineer",
		"job_description": "Build HTTP services in Go",
		"required_skills": []string{"Go", "SQL"},
		"mix":             map[string]int{"mcq": 2},
	})
	expectStatus(e.t, rec, http.StatusCreated)
	var td model.TestDefinition
	decode(e.t, rec, &td)
	return td
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, generatedTest)
	rec := env.do(http.MethodGet, "/healthz", "", nil)
	expectStatus(t, rec, http.StatusOK)
	if got := rec.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q, want DENY", got)
	}
	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
}

func TestLoginLogout(t *testing.T) {
	env := newTestEnv(t, generatedTest)

	rec := env.do(http.MethodPost, "/api/login", "", loginRequest{Username: "rec1", Password: "wrong-password"})
	expectStatus(t, rec, http.StatusUnauthorized)
	rec = env.do(http.MethodPost, "/api/login", "", loginRequest{Username: "nobody", Password: testPassword})
	expectStatus(t, rec, http.StatusUnauthorized)
	rec = env.do(http.MethodPost, "/api/login", "", `{"username":`)
	expectStatus(t, rec, http.StatusBadRequest)

	token := env.login("rec1")
	expectStatus(t, env.do(http.MethodGet, "/api/tests", token, nil), http.StatusOK)

	expectStatus(t, env.do(http.MethodPost, "/api/logout", token, nil), http.StatusOK)
	expectStatus(t, env.do(http.MethodGet, "/api/tests", token, nil), http.StatusUnauthorized)
}

func TestRequireAuthRejects(t *testing.T) {
	env := newTestEnv(t, generatedTest)
	tests := []struct {
		name  string
		token string
	}{
		{"no token", ""},
		{"garbage", "not-a-jwt"},
		{"unknown session", func() string {
			h := &Handler{config: model.ServiceConfig{JWTSecret: []byte("test-secret")}}
			tok, _ := h.issueToken(model.AuthSession{ID: "gone", UserID: env.users["rec1"].ID, CreatedAt: time.Now(), ExpiresAt: time.Now().Add(time.Hour)})
			return tok
		}()},
		{"wrong secret", func() string {
			h := &Handler{config: model.ServiceConfig{JWTSecret: []byte("other")}}
			tok, _ := h.issueToken(model.AuthSession{ID: "x", UserID: "y", CreatedAt: time.Now(), ExpiresAt: time.Now().Add(time.Hour)})
			return tok
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(http.MethodGet, "/api/tests", tt.token, nil)
			expectStatus(t, rec, http.StatusUnauthorized)
		})
	}
}

func TestLocalizedErrors(t *testing.T) {
	env := newTestEnv(t, generatedTest)
	rec := env.do(http.MethodGet, "/api/tests", "", nil, "Accept-Language", "ru")
	expectStatus(t, rec, http.StatusUnauthorized)
	var resp errorResponse
	decode(t, rec, &resp)
	if resp.Error != "Требуется вход в систему." {
		t.Errorf("error = %q", resp.Error)
	}
}

func TestRegister(t *testing.T) {
	env := newTestEnv(t, generatedTest)

	body := registerRequest{Username: "newbie", Password: testPassword, Email: "newbie@example.com"}
	rec := env.do(http.MethodPost, "/api/register", "", body)
	expectStatus(t, rec, http.StatusCreated)
	var u model.User
	decode(t, rec, &u)
	if u.Role != model.UserRoleStudent || u.DisplayName != "newbie" {
		t.Errorf("registered user = %+v", u)
	}
	if strings.Contains(rec.Body.String(), "password") {
		t.Error("response leaks the password hash")
	}

	expectStatus(t, env.do(http.MethodPost, "/api/register", "", body), http.StatusConflict)
	expectStatus(t, env.do(http.MethodPost, "/api/register", "", registerRequest{Username: "x", Password: "short"}), http.StatusBadRequest)
	env.login("newbie")
}

func TestRoleEnforcement(t *testing.T) {
	env := newTestEnv(t, generatedTest)
	student := env.login("stu1")
	recruiter := env.login("rec1")
	admin := env.login("admin")

	expectStatus(t, env.do(http.MethodPost, "/api/tests", student, map[string]any{}), http.StatusForbidden)
	expectStatus(t, env.do(http.MethodGet, "/api/admin/users", recruiter, nil), http.StatusForbidden)
	expectStatus(t, env.do(http.MethodGet, "/api/submissions/mine", recruiter, nil), http.StatusForbidden)
	expectStatus(t, env.do(http.MethodGet, "/api/admin/users", admin, nil), http.StatusOK)
}

func TestTestLifecycle(t *testing.T) {
	env := newTestEnv(t, generatedTest)
	rec1 := env.login("rec1")
	rec2 := env.login("rec2")
	stu1 := env.login("stu1")

	td := env.createTest(rec1)
	if td.ID == "" || td.Mix().MCQ != 2 || td.CreatedBy != env.users["rec1"].ID {
		t.Fatalf("created test = %+v", td)
	}
	testPath := "/api/tests/" + td.ID

	// Students see the test without answer keys.
	rec := env.do(http.MethodGet, testPath, stu1, nil)
	expectStatus(t, rec, http.StatusOK)
	if strings.Contains(rec.Body.String(), "correct_index") {
		t.Error("student view contains answer keys")
	}
	expectStatus(t, env.do(http.MethodGet, testPath, rec2, nil), http.StatusForbidden)

	// Recruiter listings are scoped to their own tests.
	var summaries []model.TestSummary
	decode(t, env.do(http.MethodGet, "/api/tests", rec2, nil), &summaries)
	if len(summaries) != 0 {
		t.Errorf("rec2 sees %d tests", len(summaries))
	}
	decode(t, env.do(http.MethodGet, "/api/tests", stu1, nil), &summaries)
	if len(summaries) != 1 || summaries[0].TotalMarks != 2 {
		t.Errorf("student listing = %+v", summaries)
	}

	// Starting is idempotent until the test is submitted.
	rec = env.do(http.MethodPost, testPath+"/start", stu1, nil)
	expectStatus(t, rec, http.StatusOK)
	var att model.Attempt
	decode(t, rec, &att)
	if att.TestID != td.ID || !att.Deadline.Equal(att.StartedAt.Add(time.Duration(td.DurationMinutes)*time.Minute)) {
		t.Errorf("attempt = %+v", att)
	}
	var again model.Attempt
	decode(t, env.do(http.MethodPost, testPath+"/start", stu1, nil), &again)
	if !again.StartedAt.Equal(att.StartedAt) {
		t.Errorf("restart moved the start to %v", again.StartedAt)
	}
	expectStatus(t, env.do(http.MethodPost, testPath+"/start", rec1, nil), http.StatusForbidden)
	expectStatus(t, env.do(http.MethodPost, "/api/tests/missing/start", stu1, nil), http.StatusNotFound)

	// Submit once; a second attempt conflicts.
	answers := submitRequest{Answers: map[string]model.Answer{
		"q1": {ChoiceIndex: intPtr(0)},
		"q2": {ChoiceIndex: intPtr(0)},
	}}
	rec = env.do(http.MethodPost, testPath+"/submissions", stu1, answers)
	expectStatus(t, rec, http.StatusCreated)
	var sub model.Submission
	decode(t, rec, &sub)
	expectStatus(t, env.do(http.MethodPost, testPath+"/submissions", stu1, answers), http.StatusConflict)
	expectStatus(t, env.do(http.MethodPost, testPath+"/start", stu1, nil), http.StatusConflict)
	if sub.StartedAt == nil || sub.Late {
		t.Errorf("timed submission = started %v, late %v", sub.StartedAt, sub.Late)
	}

	bad := submitRequest{Answers: map[string]model.Answer{"q9": {Text: "x"}}}
	expectStatus(t, env.do(http.MethodPost, testPath+"/submissions", env.login("stu2"), bad), http.StatusBadRequest)

	// Analysis needs an evaluated submission.
	expectStatus(t, env.do(http.MethodGet, "/api/submissions/"+sub.ID+"/analysis", rec1, nil), http.StatusConflict)

	rec = env.do(http.MethodPost, testPath+"/evaluate", rec1, nil)
	expectStatus(t, rec, http.StatusOK)
	var batch batchResponse
	decode(t, rec, &batch)
	if batch.Evaluated != 1 || batch.Message != "1 submission evaluated." {
		t.Errorf("batch = %+v", batch)
	}
	expectStatus(t, env.do(http.MethodPost, testPath+"/evaluate", rec2, nil), http.StatusForbidden)

	rec = env.do(http.MethodGet, "/api/submissions/"+sub.ID, stu1, nil)
	expectStatus(t, rec, http.StatusOK)
	decode(t, rec, &sub)
	if !sub.Evaluated || sub.TotalScore != 1 {
		t.Errorf("evaluated submission = %+v", sub)
	}
	expectStatus(t, env.do(http.MethodGet, "/api/submissions/"+sub.ID, env.login("stu2"), nil), http.StatusForbidden)
	expectStatus(t, env.do(http.MethodGet, "/api/submissions/"+sub.ID, rec2, nil), http.StatusForbidden)

	rec = env.do(http.MethodGet, "/api/submissions/"+sub.ID+"/analysis", rec1, nil)
	expectStatus(t, rec, http.StatusOK)
	var perf exam.Performance
	decode(t, rec, &perf)
	if perf.Analysis == nil || perf.Analysis.Summary != "Solid fundamentals" {
		t.Errorf("analysis = %+v", perf)
	}

	var mine []model.Submission
	decode(t, env.do(http.MethodGet, "/api/submissions/mine", stu1, nil), &mine)
	if len(mine) != 1 {
		t.Errorf("mine = %d submissions", len(mine))
	}
}

func TestReportsAndSearch(t *testing.T) {
	env := newTestEnv(t, generatedTest)
	rec1 := env.login("rec1")
	td := env.createTest(rec1)
	testPath := "/api/tests/" + td.ID

	answers := submitRequest{Answers: map[string]model.Answer{"q1": {ChoiceIndex: intPtr(0)}, "q2": {ChoiceIndex: intPtr(1)}}}
	expectStatus(t, env.do(http.MethodPost, testPath+"/submissions", env.login("stu1"), answers), http.StatusCreated)
	expectStatus(t, env.do(http.MethodPost, testPath+"/evaluate", rec1, nil), http.StatusOK)

	rec := env.do(http.MethodGet, testPath+"/analytics", rec1, nil)
	expectStatus(t, rec, http.StatusOK)
	var a struct {
		Responses int     `json:"responses"`
		PassRate  float64 `json:"pass_rate"`
	}
	decode(t, rec, &a)
	if a.Responses != 1 || a.PassRate != 100 {
		t.Errorf("analytics = %+v", a)
	}

	rec = env.do(http.MethodGet, testPath+"/report.csv", rec1, nil)
	expectStatus(t, rec, http.StatusOK)
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("content type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "STU1") {
		t.Errorf("report missing student: %s", rec.Body)
	}
	rec = env.do(http.MethodGet, testPath+"/questions.csv", rec1, nil)
	expectStatus(t, rec, http.StatusOK)
	if !strings.HasPrefix(rec.Body.String(), "Question,") {
		t.Errorf("questions csv = %s", rec.Body)
	}
	rec = env.do(http.MethodGet, testPath+"/report.xlsx", rec1, nil)
	expectStatus(t, rec, http.StatusOK)
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")) {
		t.Error("xlsx body is not a zip archive")
	}

	var found []model.Submission
	decode(t, env.do(http.MethodGet, "/api/submissions/search?q=stu1", rec1, nil), &found)
	if len(found) != 1 {
		t.Errorf("search found %d", len(found))
	}
	decode(t, env.do(http.MethodGet, "/api/submissions/search?q=stu1", env.login("rec2"), nil), &found)
	if len(found) != 0 {
		t.Errorf("rec2 search found %d", len(found))
	}
	expectStatus(t, env.do(http.MethodGet, "/api/submissions/search", rec1, nil), http.StatusBadRequest)
}

func TestShareAndImport(t *testing.T) {
	env := newTestEnv(t, generatedTest)
	rec1 := env.login("rec1")
	rec2 := env.login("rec2")
	td := env.createTest(rec1)

	expectStatus(t, env.do(http.MethodGet, "/api/tests/"+td.ID+"/share", rec2, nil), http.StatusForbidden)
	rec := env.do(http.MethodGet, "/api/tests/"+td.ID+"/share", rec1, nil)
	expectStatus(t, rec, http.StatusOK)
	var share shareResponse
	decode(t, rec, &share)

	rec = env.do(http.MethodPost, "/api/tests/import", rec2, importRequest{Code: share.Code})
	expectStatus(t, rec, http.StatusCreated)
	var imported model.TestDefinition
	decode(t, rec, &imported)
	if imported.ID == td.ID || imported.CreatedBy != env.users["rec2"].ID || imported.Title != td.Title {
		t.Errorf("imported = %+v", imported.Summary())
	}

	expectStatus(t, env.do(http.MethodPost, "/api/tests/import", rec2, importRequest{Code: "garbage"}), http.StatusBadRequest)
}

func TestCreateTestErrors(t *testing.T) {
	env := newTestEnv(t, "this is not json")
	rec1 := env.login("rec1")

	rec := env.do(http.MethodPost, "/api/tests", rec1, map[string]any{
		"job_description": "Build services",
		"required_skills": []string{"Go"},
		"mix":             map[string]int{"mcq": 1},
	})
	expectStatus(t, rec, http.StatusBadGateway)
	var resp errorResponse
	decode(t, rec, &resp)
	if !strings.HasPrefix(resp.Error, "Test generation failed") {
		t.Errorf("error = %q", resp.Error)
	}

	rec = env.do(http.MethodPost, "/api/tests", rec1, map[string]any{"mix": map[string]int{"mcq": 1}})
	expectStatus(t, rec, http.StatusBadRequest)
	rec = env.do(http.MethodPost, "/api/tests", rec1, map[string]any{"unknown_field": true})
	expectStatus(t, rec, http.StatusBadRequest)

	expectStatus(t, env.do(http.MethodGet, "/api/tests/missing", rec1, nil), http.StatusNotFound)
}

func TestHandleErrorStatus(t *testing.T) {
	if err := appI18n.Init("en"); err != nil {
		t.Fatalf("init i18n: %v", err)
	}
	h := &Handler{}
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"generation", &exam.GenerationError{Reason: "bad reply"}, http.StatusBadGateway},
		{"generation timeout", &exam.GenerationError{Reason: "LLM call failed", Err: fmt.Errorf("post: %w", context.DeadlineExceeded)}, http.StatusGatewayTimeout},
		{"deadline", fmt.Errorf("generate test: %w", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{"not found", fmt.Errorf("get test: %w", store.ErrNotFound), http.StatusNotFound},
		{"duplicate", store.ErrDuplicate, http.StatusConflict},
		{"invalid answer", exam.ErrInvalidAnswer, http.StatusBadRequest},
		{"other", errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { h.handleError(w, r, tt.err) })
			rec := httptest.NewRecorder()
			appI18n.Middleware("en")(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/tests", nil))
			expectStatus(t, rec, tt.want)
		})
	}
}

func TestAdminUsers(t *testing.T) {
	env := newTestEnv(t, generatedTest)
	admin := env.login("admin")

	rec := env.do(http.MethodPost, "/api/admin/users", admin, createUserRequest{Username: "rec3", Password: testPassword})
	expectStatus(t, rec, http.StatusCreated)
	var u model.User
	decode(t, rec, &u)
	if u.Role != model.UserRoleRecruiter {
		t.Errorf("default role = %q", u.Role)
	}
	expectStatus(t, env.do(http.MethodPost, "/api/admin/users", admin, createUserRequest{Username: "x", Password: testPassword, Role: "owner"}), http.StatusBadRequest)

	var users []model.User
	decode(t, env.do(http.MethodGet, "/api/admin/users", admin, nil), &users)
	if len(users) != 6 {
		t.Errorf("users = %d, want 6", len(users))
	}

	stuToken := env.login("stu1")
	rec = env.do(http.MethodPost, "/api/admin/users/"+env.users["stu1"].ID+"/toggle", admin, nil)
	expectStatus(t, rec, http.StatusOK)
	decode(t, rec, &u)
	if u.Active {
		t.Error("user should be inactive after toggle")
	}
	expectStatus(t, env.do(http.MethodGet, "/api/tests", stuToken, nil), http.StatusUnauthorized)
	expectStatus(t, env.do(http.MethodPost, "/api/login", "", loginRequest{Username: "stu1", Password: testPassword}), http.StatusForbidden)

	expectStatus(t, env.do(http.MethodPost, "/api/admin/users/"+env.users["admin"].ID+"/toggle", admin, nil), http.StatusBadRequest)
	expectStatus(t, env.do(http.MethodPost, "/api/admin/users/missing/toggle", admin, nil), http.StatusNotFound)
}

func intPtr(i int) *int { return &i }
