package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/talentlab/funnel/internal/i18n"
	"github.com/talentlab/funnel/internal/llm"
	"github.com/talentlab/funnel/internal/mailer"
	"github.com/talentlab/funnel/internal/model"
	"github.com/talentlab/funnel/internal/store"
	"github.com/talentlab/funnel/internal/transcript"
)

const (
	adminEmail    = "admin@example.com"
	adminPassword = "swordfish"
)

// fakeLLM returns canned questions and evaluations without network calls.
type fakeLLM struct {
	questions []llm.GeneratedQuestion
	genErr    error

	evalByTranscript map[string]llm.Evaluation
	evalErr          error
}

func (f *fakeLLM) GenerateQuiz(_ context.Context, _ llm.QuizSpec) ([]llm.GeneratedQuestion, error) {
	if f.genErr != nil {
		return nil, f.genErr
	}
	return f.questions, nil
}

func (f *fakeLLM) EvaluateVideo(_ context.Context, transcriptText, _, _ string) (llm.Evaluation, model.EvalOutcome, error) {
	if f.evalErr != nil {
		return llm.Evaluation{}, "", f.evalErr
	}
	if eval, ok := f.evalByTranscript[transcriptText]; ok {
		return eval, model.OutcomeParsed, nil
	}
	return llm.FallbackEvaluation(), model.OutcomeFallback, nil
}

// fakeTranscripts maps video IDs to transcript text.
type fakeTranscripts struct {
	byVideoID map[string]string
}

func (f *fakeTranscripts) Fetch(_ context.Context, videoID string) (string, error) {
	text, ok := f.byVideoID[videoID]
	if !ok {
		return "", transcript.ErrNoTranscript
	}
	return text, nil
}

// recordingSender captures every outbound message.
type recordingSender struct {
	sent []mailer.Message
	fail map[string]bool
}

func (s *recordingSender) Send(_ context.Context, msg mailer.Message) error {
	s.sent = append(s.sent, msg)
	if s.fail[msg.To] {
		return errors.New("delivery refused")
	}
	return nil
}

type testEnv struct {
	server *httptest.Server
	client *http.Client
	store  *store.Store
	llm    *fakeLLM
	videos *fakeTranscripts
	sender *recordingSender
	csrf   string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	if err := i18n.Init("en"); err != nil {
		t.Fatalf("i18n.Init: %v", err)
	}

	s, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	hash, err := bcrypt.GenerateFromPassword([]byte(adminPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	if _, err := s.CreateUser(model.User{
		Email:        adminEmail,
		DisplayName:  "Administrator",
		PasswordHash: string(hash),
		Role:         model.UserRoleAdmin,
		Active:       true,
	}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	fl := &fakeLLM{evalByTranscript: map[string]llm.Evaluation{}}
	ft := &fakeTranscripts{byVideoID: map[string]string{}}
	sender := &recordingSender{}

	cfg := model.Config{
		BaseURL:         "http://funnel.test",
		Lang:            "en",
		VideoTopic:      "AI in my studies",
		QuizTopCount:    2,
		VideoProportion: 0.5,
		VideoMinCount:   1,
		VideoMaxCount:   10,
		WinnerCount:     2,
		EvalConcurrency: 2,
		CallTimeoutSecs: 5,
	}

	h := New(s, fl, ft, sender, cfg)
	r := chi.NewRouter()
	h.Routes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	jar, _ := cookiejar.New(nil)
	return &testEnv{
		server: srv,
		client: &http.Client{Jar: jar},
		store:  s,
		llm:    fl,
		videos: ft,
		sender: sender,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, e.server.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if e.csrf != "" {
		req.Header.Set("X-CSRF-Token", e.csrf)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func (e *testEnv) login(t *testing.T) {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/api/login", map[string]string{
		"email":    adminEmail,
		"password": adminPassword,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d", resp.StatusCode)
	}
	body := decode[map[string]any](t, resp)
	csrf, _ := body["csrf_token"].(string)
	if csrf == "" {
		t.Fatal("login response missing csrf_token")
	}
	e.csrf = csrf
}

func (e *testEnv) addStudent(t *testing.T, name string) model.Student {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/api/students", map[string]string{
		"name":  name,
		"email": name + "@example.com",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create student %s: status %d", name, resp.StatusCode)
	}
	return decode[model.Student](t, resp)
}

func TestAuthRequired(t *testing.T) {
	e := newTestEnv(t)
	resp := e.do(t, http.MethodGet, "/api/students", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	e := newTestEnv(t)
	resp := e.do(t, http.MethodPost, "/api/login", map[string]string{
		"email":    adminEmail,
		"password": "wrong",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestCSRFRequiredOnMutations(t *testing.T) {
	e := newTestEnv(t)
	e.login(t)

	e.csrf = "" // keep the session cookie but drop the header
	resp := e.do(t, http.MethodPost, "/api/students", map[string]string{
		"name": "mallory", "email": "mallory@example.com",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
}

func TestRosterImport(t *testing.T) {
	e := newTestEnv(t)
	e.login(t)
	e.addStudent(t, "existing")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "roster.csv")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	fmt.Fprintln(fw, "name,email,extra_info")
	fmt.Fprintln(fw, "Alice,alice@example.com,group A")
	fmt.Fprintln(fw, "Bob,bob@example.com,")
	fmt.Fprintln(fw, ",missing-name@example.com,")
	fmt.Fprintln(fw, "Existing Again,existing@example.com,")
	mw.Close()

	req, err := http.NewRequest(http.MethodPost, e.server.URL+"/api/students/import", &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-CSRF-Token", e.csrf)
	resp, err := e.client.Do(req)
	if err != nil {
		t.Fatalf("import request: %v", err)
	}
	summary := decode[importSummary](t, resp)

	if summary.Created != 2 || summary.Skipped != 2 {
		t.Fatalf("summary = %+v, want created 2 skipped 2", summary)
	}

	students, err := e.store.ListStudents()
	if err != nil {
		t.Fatalf("ListStudents: %v", err)
	}
	if len(students) != 3 {
		t.Fatalf("roster size = %d, want 3", len(students))
	}
	for _, st := range students {
		if st.InviteToken == "" {
			t.Fatalf("student %s has no invite token", st.Email)
		}
	}
}

func TestQuizFlowEndToEnd(t *testing.T) {
	e := newTestEnv(t)
	e.login(t)

	alice := e.addStudent(t, "alice")
	bob := e.addStudent(t, "bob")
	carol := e.addStudent(t, "carol")

	// Create the quiz.
	resp := e.do(t, http.MethodPost, "/api/quizzes", map[string]any{
		"title":             "Selection Quiz",
		"topic":             "ai basics",
		"time_per_question": 30,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create quiz: status %d", resp.StatusCode)
	}
	quiz := decode[model.Quiz](t, resp)

	// Activating an empty quiz must fail.
	resp = e.do(t, http.MethodPost, fmt.Sprintf("/api/quizzes/%d/activate", quiz.ID), map[string]bool{"active": true})
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("activate empty quiz: status %d, want 409", resp.StatusCode)
	}

	// Generate questions.
	e.llm.questions = []llm.GeneratedQuestion{
		{Text: "Go is compiled.", Options: []string{"True", "False"}, CorrectAnswer: "true"},
		{Text: "Go has classes.", Options: []string{"True", "False"}, CorrectAnswer: "false"},
	}
	resp = e.do(t, http.MethodPost, fmt.Sprintf("/api/quizzes/%d/generate", quiz.ID), map[string]any{
		"num_questions": 2,
		"difficulty":    "easy",
		"type":          "true_false",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("generate: status %d", resp.StatusCode)
	}
	gen := decode[map[string]any](t, resp)
	if gen["question_count"].(float64) != 2 {
		t.Fatalf("question_count = %v, want 2", gen["question_count"])
	}

	// Activate and invite.
	resp = e.do(t, http.MethodPost, fmt.Sprintf("/api/quizzes/%d/activate", quiz.ID), map[string]bool{"active": true})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("activate: status %d", resp.StatusCode)
	}

	resp = e.do(t, http.MethodPost, fmt.Sprintf("/api/quizzes/%d/invitations", quiz.ID), map[string]any{})
	invites := decode[map[string]any](t, resp)
	if invites["emails_sent"].(float64) != 3 {
		t.Fatalf("emails_sent = %v, want 3", invites["emails_sent"])
	}
	if len(e.sender.sent) != 3 {
		t.Fatalf("sender recorded %d messages, want 3", len(e.sender.sent))
	}
	if !strings.Contains(e.sender.sent[0].HTML, fmt.Sprintf("/student/quiz/%d?token=", quiz.ID)) {
		t.Fatalf("invitation must carry a personal link: %q", e.sender.sent[0].HTML)
	}
	if e.sender.sent[0].Text != e.sender.sent[0].HTML {
		t.Fatalf("invitation must carry a plain-text part alongside HTML: %+v", e.sender.sent[0])
	}
	e.sender.sent = nil

	// Students take the quiz through their personal links.
	questions, err := e.store.ListQuizQuestions(quiz.ID)
	if err != nil {
		t.Fatalf("ListQuizQuestions: %v", err)
	}
	answerAll := func(st model.Student, answers []string) {
		t.Helper()
		for i, q := range questions {
			resp := e.do(t, http.MethodPost, "/api/answers", map[string]any{
				"token":       st.InviteToken,
				"question_id": q.ID,
				"answer_text": answers[i],
			})
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("answer for %s: status %d", st.Name, resp.StatusCode)
			}
		}
	}
	answerAll(alice, []string{"true", "false"}) // 100%
	answerAll(bob, []string{"true", "true"})    // 50%
	answerAll(carol, []string{"false", "true"}) // 0%

	// The question payload served to students must not leak answers.
	resp = e.do(t, http.MethodGet, fmt.Sprintf("/api/quizzes/%d/take?token=%s", quiz.ID, alice.InviteToken), nil)
	take := decode[map[string]any](t, resp)
	for _, q := range take["questions"].([]any) {
		if ans, ok := q.(map[string]any)["correct_answer"]; ok && ans != "" {
			t.Fatalf("take payload leaks correct_answer: %v", ans)
		}
	}

	// Score and notify: top 2 of 2 eligible (carol scored 0).
	resp = e.do(t, http.MethodPost, fmt.Sprintf("/api/quizzes/%d/score-and-notify", quiz.ID), map[string]any{})
	scored := decode[map[string]any](t, resp)
	if scored["participants"].(float64) != 3 {
		t.Fatalf("participants = %v, want 3", scored["participants"])
	}
	selected := scored["selected"].([]any)
	if len(selected) != 2 {
		t.Fatalf("selected = %v, want 2 students", selected)
	}
	if int64(selected[0].(float64)) != alice.ID || int64(selected[1].(float64)) != bob.ID {
		t.Fatalf("selected order = %v, want [alice bob]", selected)
	}
	if len(e.sender.sent) != 2 {
		t.Fatalf("top-cohort mails = %d, want 2", len(e.sender.sent))
	}
	if !strings.Contains(e.sender.sent[0].HTML, "/student/video?token=") {
		t.Fatalf("top-cohort mail must link to video submission: %q", e.sender.sent[0].HTML)
	}
}

func seedSubmission(t *testing.T, e *testEnv, name, videoID string) (model.Student, int64) {
	t.Helper()
	st := e.addStudent(t, name)
	resp := e.do(t, http.MethodPost, "/api/videos", map[string]string{
		"token":        st.InviteToken,
		"title":        name + "'s video",
		"youtube_link": "https://youtu.be/" + videoID,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("submit video for %s: status %d", name, resp.StatusCode)
	}
	body := decode[map[string]int64](t, resp)
	return st, body["submission_id"]
}

func TestVideoProcessing(t *testing.T) {
	e := newTestEnv(t)
	e.login(t)

	_, goodID := seedSubmission(t, e, "good", "aaaaaaaaaaa")
	_, missingID := seedSubmission(t, e, "missing", "bbbbbbbbbbb")

	e.videos.byVideoID["aaaaaaaaaaa"] = "a talk about ai in education"
	e.llm.evalByTranscript["a talk about ai in education"] = llm.Evaluation{
		RelevanceScore: 35, ContentQualityScore: 25, PresentationScore: 15,
		EngagementScore: 8, TotalScore: 83, Summary: "good", Feedback: "nice",
		TopicAlignment: "high",
	}

	resp := e.do(t, http.MethodPost, "/api/videos/process", nil)
	out := decode[map[string]any](t, resp)
	if out["completed"].(float64) != 1 || out["failed"].(float64) != 1 {
		t.Fatalf("process summary = %v, want 1 completed 1 failed", out)
	}

	good, err := e.store.GetSubmission(goodID)
	if err != nil {
		t.Fatalf("GetSubmission: %v", err)
	}
	if good.Status != model.SubmissionCompleted || good.TotalScore != 83 {
		t.Fatalf("good submission: %+v", good)
	}
	if good.Outcome != model.OutcomeParsed {
		t.Fatalf("outcome = %s, want parsed", good.Outcome)
	}

	missing, _ := e.store.GetSubmission(missingID)
	if missing.Status != model.SubmissionFailed {
		t.Fatalf("missing-transcript submission must fail: %+v", missing)
	}

	// Re-running the batch finds nothing pending.
	resp = e.do(t, http.MethodPost, "/api/videos/process", nil)
	out = decode[map[string]any](t, resp)
	if out["total"].(float64) != 0 {
		t.Fatalf("second run total = %v, want 0", out["total"])
	}
}

func TestVideoSubmitRejectsBadLink(t *testing.T) {
	e := newTestEnv(t)
	e.login(t)
	st := e.addStudent(t, "hope")

	resp := e.do(t, http.MethodPost, "/api/videos", map[string]string{
		"token":        st.InviteToken,
		"title":        "not youtube",
		"youtube_link": "https://vimeo.com/12345678",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func completeSubmission(t *testing.T, e *testEnv, name, videoID string, score float64) (model.Student, int64) {
	t.Helper()
	st, id := seedSubmission(t, e, name, videoID)
	if err := e.store.SaveEvaluation(id, "transcript", "{}", score, model.OutcomeParsed); err != nil {
		t.Fatalf("SaveEvaluation: %v", err)
	}
	return st, id
}

func TestRankAndNotify(t *testing.T) {
	e := newTestEnv(t)
	e.login(t)

	completeSubmission(t, e, "first", "aaaaaaaaaaa", 90)
	completeSubmission(t, e, "second", "bbbbbbbbbbb", 70)
	completeSubmission(t, e, "third", "ccccccccccc", 50)
	completeSubmission(t, e, "fourth", "ddddddddddd", 30)
	e.sender.sent = nil

	// Proportion 0.5 of 4 completed selects 2.
	resp := e.do(t, http.MethodPost, "/api/videos/rank-and-notify", nil)
	out := decode[map[string]any](t, resp)
	if out["completed"].(float64) != 4 || out["selected"].(float64) != 2 {
		t.Fatalf("rank summary = %v, want completed 4 selected 2", out)
	}
	if len(e.sender.sent) != 2 {
		t.Fatalf("pass mails = %d, want 2", len(e.sender.sent))
	}
	if e.sender.sent[0].To != "first@example.com" {
		t.Fatalf("highest score must be notified first, got %s", e.sender.sent[0].To)
	}
}

func TestNotifyWinners(t *testing.T) {
	e := newTestEnv(t)
	e.login(t)

	_, firstID := completeSubmission(t, e, "gold", "aaaaaaaaaaa", 95)
	completeSubmission(t, e, "silver", "bbbbbbbbbbb", 80)
	completeSubmission(t, e, "bronze", "ccccccccccc", 60)
	e.sender.sent = nil

	resp := e.do(t, http.MethodPost, "/api/winners/notify", nil)
	out := decode[map[string]any](t, resp)
	winners := out["winners"].([]any)
	if len(winners) != 2 {
		t.Fatalf("winners = %d, want 2 (configured count)", len(winners))
	}

	top := winners[0].(map[string]any)
	if top["position"].(float64) != 1 || !strings.Contains(top["prize"].(string), "First Place") {
		t.Fatalf("unexpected first place: %v", top)
	}

	first, err := e.store.GetSubmission(firstID)
	if err != nil {
		t.Fatalf("GetSubmission: %v", err)
	}
	if first.Ranking == nil || *first.Ranking != 1 {
		t.Fatalf("first place ranking not persisted: %+v", first)
	}

	if len(e.sender.sent) != 2 {
		t.Fatalf("winner mails = %d, want 2", len(e.sender.sent))
	}
	if !strings.Contains(e.sender.sent[0].Subject, "First Place") {
		t.Fatalf("winner subject = %q", e.sender.sent[0].Subject)
	}
	if e.sender.sent[0].Text == "" {
		t.Fatal("winner mail must carry a plain-text part")
	}

	// Winners list endpoint reflects the persisted ranking.
	resp = e.do(t, http.MethodGet, "/api/winners", nil)
	list := decode[[]model.Winner](t, resp)
	if len(list) != 2 || list[0].Position != 1 {
		t.Fatalf("winners list = %+v", list)
	}

	// Re-ranking after a new high score replaces positions.
	completeSubmission(t, e, "latecomer", "eeeeeeeeeee", 99)
	resp = e.do(t, http.MethodPost, "/api/winners/notify", nil)
	out = decode[map[string]any](t, resp)
	winners = out["winners"].([]any)
	if winners[0].(map[string]any)["student"].(map[string]any)["name"] != "latecomer" {
		t.Fatalf("re-rank must promote the new top score: %v", winners[0])
	}

	ranked, err := e.store.ListRanked()
	if err != nil {
		t.Fatalf("ListRanked: %v", err)
	}
	if len(ranked) != 2 {
		t.Fatalf("stale rankings must be cleared, got %d", len(ranked))
	}
}

func TestNotifySummaryCountsFailures(t *testing.T) {
	e := newTestEnv(t)
	e.login(t)

	completeSubmission(t, e, "winner", "aaaaaaaaaaa", 90)
	completeSubmission(t, e, "unreachable", "bbbbbbbbbbb", 85)
	e.sender.sent = nil
	e.sender.fail = map[string]bool{"unreachable@example.com": true}

	resp := e.do(t, http.MethodPost, "/api/winners/notify", nil)
	out := decode[map[string]any](t, resp)
	if out["emails_sent"].(float64) != 1 || out["emails_failed"].(float64) != 1 {
		t.Fatalf("summary = %v, want 1 sent 1 failed", out)
	}
	// Both recipients were attempted despite the failure.
	if len(e.sender.sent) != 2 {
		t.Fatalf("attempted = %d, want 2", len(e.sender.sent))
	}
}

func TestStats(t *testing.T) {
	e := newTestEnv(t)
	e.login(t)

	e.addStudent(t, "one")
	e.addStudent(t, "two")

	resp := e.do(t, http.MethodGet, "/api/stats", nil)
	stats := decode[map[string]int](t, resp)
	if stats["students"] != 2 {
		t.Fatalf("students = %d, want 2", stats["students"])
	}
	if stats["active_quizzes"] != 0 || stats["video_submissions"] != 0 || stats["winners"] != 0 {
		t.Fatalf("unexpected stats: %v", stats)
	}
}

// Answers against an inactive quiz are rejected so late submissions
// cannot change a closed round.
func TestAnswerRejectedWhenQuizInactive(t *testing.T) {
	e := newTestEnv(t)
	e.login(t)
	st := e.addStudent(t, "tardy")

	quizID, err := e.store.CreateQuiz(model.Quiz{Title: "Closed", Topic: "t", TimePerQuestion: 30})
	if err != nil {
		t.Fatalf("CreateQuiz: %v", err)
	}
	qID, err := e.store.InsertQuestion(model.Question{
		QuizID: quizID, Text: "q", Type: model.QuestionTrueFalse,
		Difficulty: model.DifficultyEasy, CorrectAnswer: "true",
	})
	if err != nil {
		t.Fatalf("InsertQuestion: %v", err)
	}

	resp := e.do(t, http.MethodPost, "/api/answers", map[string]any{
		"token":       st.InviteToken,
		"question_id": qID,
		"answer_text": "true",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
}

func TestSessionExpiry(t *testing.T) {
	e := newTestEnv(t)
	e.login(t)

	// Logout invalidates the session server-side.
	resp := e.do(t, http.MethodPost, "/api/logout", nil)
	resp.Body.Close()

	resp = e.do(t, http.MethodGet, "/api/students", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status after logout = %d, want 401", resp.StatusCode)
	}
}
