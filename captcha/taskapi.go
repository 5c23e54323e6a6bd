package captcha

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/h2non/gentleman.v2"

	"github.com/CbIPOKGIT/claimer/proxy"
)

const (
	TWOCAPTCHA_API_URL  = "https://api.2captcha.com"
	ANTICAPTCHA_API_URL = "https://api.anti-captcha.com"
	CAPSOLVER_API_URL   = "https://api.capsolver.com"

	DEFAULT_POLL_INTERVAL = 5 * time.Second
	DEFAULT_POLL_ATTEMPTS = 24
)

// PollOptions bound the getTaskResult loop.
type PollOptions struct {
	Interval time.Duration
	Attempts int
}

func (o PollOptions) normalize() PollOptions {
	if o.Interval < 0 {
		o.Interval = DEFAULT_POLL_INTERVAL
	}
	if o.Attempts <= 0 {
		o.Attempts = DEFAULT_POLL_ATTEMPTS
	}
	return o
}

// taskBuilder translates a challenge into the provider specific task object.
type taskBuilder func(challenge Challenge, prx proxy.Proxy) (map[string]any, error)

// TaskService talks to a createTask / getTaskResult API.
// 2captcha, anti-captcha and capsolver share the protocol and differ in task naming.
type TaskService struct {
	name   string
	apiKey string
	client *gentleman.Client
	build  taskBuilder
	poll   PollOptions
	logger *zap.Logger
}

type taskBody struct {
	Key  string         `json:"clientKey"`
	Task map[string]any `json:"task"`
}

type taskResultBody struct {
	Key  string          `json:"clientKey"`
	Task json.RawMessage `json:"taskId"`
}

type taskResponse struct {
	Error            int             `json:"errorId"`
	ErrorCode        string          `json:"errorCode"`
	ErrorDescription string          `json:"errorDescription"`
	Task             json.RawMessage `json:"taskId"`
	Status           string          `json:"status"`
	Solution         map[string]any  `json:"solution"`
}

// NewTwoCaptcha creates 2captcha provider. baseURL may be empty for the public API.
func NewTwoCaptcha(apiKey, baseURL string, poll PollOptions, logger *zap.Logger) *TaskService {
	return newTaskService("2captcha", apiKey, orDefault(baseURL, TWOCAPTCHA_API_URL), buildSharedTask, poll, logger)
}

// NewAntiCaptcha creates anti-captcha provider.
func NewAntiCaptcha(apiKey, baseURL string, poll PollOptions, logger *zap.Logger) *TaskService {
	return newTaskService("anticaptcha", apiKey, orDefault(baseURL, ANTICAPTCHA_API_URL), buildSharedTask, poll, logger)
}

// NewCapSolver creates capsolver provider.
func NewCapSolver(apiKey, baseURL string, poll PollOptions, logger *zap.Logger) *TaskService {
	return newTaskService("capsolver", apiKey, orDefault(baseURL, CAPSOLVER_API_URL), buildCapSolverTask, poll, logger)
}

func newTaskService(name, apiKey, baseURL string, build taskBuilder, poll PollOptions, logger *zap.Logger) *TaskService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TaskService{
		name:   name,
		apiKey: apiKey,
		client: newHTTPClient(baseURL, REQUEST_TIMEOUT),
		build:  build,
		poll:   poll.normalize(),
		logger: logger.With(zap.String("provider", name)),
	}
}

func (s *TaskService) Name() string {
	return s.name
}

func (s *TaskService) Solve(ctx context.Context, challenge Challenge, prx proxy.Proxy) (string, error) {
	if s.apiKey == "" {
		return "", failure(s.name, "api key is not set", nil)
	}

	task, err := s.build(challenge, prx)
	if err != nil {
		return "", failure(s.name, "cannot build task", err)
	}

	id, err := s.createTask(ctx, task)
	if err != nil {
		return "", err
	}
	s.logger.Debug("Task created", zap.ByteString("task_id", id))

	return s.getTaskResult(ctx, id)
}

func (s *TaskService) createTask(ctx context.Context, task map[string]any) (json.RawMessage, error) {
	response := &taskResponse{}
	if err := postJSON(ctx, s.client, "/createTask", &taskBody{Key: s.apiKey, Task: task}, response); err != nil {
		return nil, s.transportFailure("createTask", err)
	}

	if response.Error != 0 {
		return nil, s.apiFailure(response)
	}

	if len(response.Task) == 0 || string(response.Task) == "null" {
		return nil, failure(s.name, "createTask returned no task id", nil)
	}
	return response.Task, nil
}

// getTaskResult polls sequentially: wait, ask, repeat. "processing" means retry,
// anything else but "ready" ends the task.
func (s *TaskService) getTaskResult(ctx context.Context, id json.RawMessage) (string, error) {
	for attempt := 1; attempt <= s.poll.Attempts; attempt++ {
		if err := wait(ctx, s.poll.Interval); err != nil {
			return "", failure(s.name, "timeout", err)
		}

		response := &taskResponse{}
		if err := postJSON(ctx, s.client, "/getTaskResult", &taskResultBody{Key: s.apiKey, Task: id}, response); err != nil {
			return "", s.transportFailure("getTaskResult", err)
		}

		token, err := s.readResult(response)
		if errors.Is(err, errNotReady) {
			s.logger.Debug("Task not ready", zap.Int("attempt", attempt))
			continue
		}
		return token, err
	}

	return "", failure(s.name, fmt.Sprintf("poll budget exhausted after %d attempts", s.poll.Attempts), nil)
}

func (s *TaskService) readResult(response *taskResponse) (string, error) {
	if response.Error != 0 {
		return "", s.apiFailure(response)
	}

	switch response.Status {
	case "ready":
		if token := solutionToken(response.Solution); token != "" {
			return token, nil
		}
		return "", failure(s.name, "ready task without token", nil)
	case "processing", "idle":
		return "", errNotReady
	default:
		return "", failure(s.name, fmt.Sprintf("unexpected task status %q", response.Status), nil)
	}
}

func (s *TaskService) apiFailure(response *taskResponse) error {
	reason := response.ErrorDescription
	if reason == "" {
		reason = "error " + strconv.Itoa(response.Error)
	}
	if response.ErrorCode != "" {
		reason = response.ErrorCode + ": " + reason
	}
	return &SolveError{
		Provider: s.name,
		Reason:   reason,
		Fatal:    isFatalCode(response.ErrorCode),
	}
}

func (s *TaskService) transportFailure(call string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return failure(s.name, "timeout", err)
	}
	return failure(s.name, call+" unreachable", err)
}

func solutionToken(solution map[string]any) string {
	for _, key := range []string{"gRecaptchaResponse", "token"} {
		if token, ok := solution[key].(string); ok && token != "" {
			return token
		}
	}
	return ""
}

// ---------------------------------- Task builders ----------------------------------

// Task types shared by the 2captcha and anti-captcha createTask protocol
var sharedTaskTypes = map[Widget]string{
	WidgetHCaptcha:  "HCaptchaTask",
	WidgetReCaptcha: "RecaptchaV2Task",
	WidgetTurnstile: "TurnstileTask",
}

// buildSharedTask serves 2captcha and anti-captcha, which speak the same task
// protocol: "<Type>" with proxy fields or "<Type>Proxyless".
func buildSharedTask(challenge Challenge, prx proxy.Proxy) (map[string]any, error) {
	taskType, ok := sharedTaskTypes[widgetOrDefault(challenge.Widget)]
	if !ok {
		return nil, ErrUnsupported
	}
	if challenge.Widget == WidgetReCaptcha && challenge.Enterprise() {
		taskType = "RecaptchaV2EnterpriseTask"
	}

	task := map[string]any{
		"websiteURL": challenge.PageURL,
		"websiteKey": challenge.SiteKey,
	}

	if challenge.Enterprise() {
		switch challenge.Widget {
		case WidgetReCaptcha:
			task["enterprisePayload"] = map[string]string{"s": challenge.ExtraData}
		default:
			task["enterprisePayload"] = map[string]string{"rqdata": challenge.ExtraData}
		}
	}

	if prx.Address == "" {
		task["type"] = taskType + "Proxyless"
		return task, nil
	}

	fields, err := proxyFields(prx)
	if err != nil {
		return nil, err
	}
	for k, v := range fields {
		task[k] = v
	}
	task["type"] = taskType
	return task, nil
}

// capsolver dropped hCaptcha, its proxy goes as a single string.
func buildCapSolverTask(challenge Challenge, prx proxy.Proxy) (map[string]any, error) {
	var taskType string
	switch widgetOrDefault(challenge.Widget) {
	case WidgetReCaptcha:
		taskType = "ReCaptchaV2Task"
		if challenge.Enterprise() {
			taskType = "ReCaptchaV2EnterpriseTask"
		}
	case WidgetTurnstile:
		taskType = "AntiTurnstileTask"
	default:
		return nil, ErrUnsupported
	}

	task := map[string]any{
		"websiteURL": challenge.PageURL,
		"websiteKey": challenge.SiteKey,
	}
	if challenge.Enterprise() {
		task["enterprisePayload"] = map[string]string{"s": challenge.ExtraData}
	}

	if prx.Address == "" || taskType == "AntiTurnstileTask" {
		task["type"] = taskType + "ProxyLess"
		return task, nil
	}

	task["type"] = taskType
	task["proxy"] = prx.Address
	return task, nil
}

func proxyFields(prx proxy.Proxy) (map[string]any, error) {
	parsed, err := proxy.Parse(prx.Address)
	if err != nil {
		return nil, err
	}
	host, port, err := splitHostPort(parsed.Display())
	if err != nil {
		return nil, err
	}

	scheme := "http"
	if strings.HasPrefix(parsed.Server(), "socks5://") {
		scheme = "socks5"
	}

	fields := map[string]any{
		"proxyType":    scheme,
		"proxyAddress": host,
		"proxyPort":    port,
	}
	if user, password, ok := parsed.Credentials(); ok {
		fields["proxyLogin"] = user
		fields["proxyPassword"] = password
	}
	return fields, nil
}

func splitHostPort(hostport string) (string, int, error) {
	host, rawPort, err := net.SplitHostPort(hostport)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(rawPort)
	if err != nil {
		return "", 0, fmt.Errorf("invalid proxy port %q", rawPort)
	}
	return host, port, nil
}

func widgetOrDefault(w Widget) Widget {
	if w == "" {
		return WidgetHCaptcha
	}
	return w
}

func orDefault(value, def string) string {
	if value == "" {
		return def
	}
	return value
}
