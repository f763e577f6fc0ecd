// Package genai classifies and extracts client messages with the OpenAI API.
//
// Client implements the support engine's natural-language collaborator:
// intent classification, structured field extraction and detection of
// requests for a human or for contact details. Every call is a single chat
// completion that answers in JSON.
package genai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Csuarezgurruchaga/artuso-chatbot/internal/models"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultModel is used when no model is configured.
const DefaultModel = string(openai.ChatModelGPT4oMini)

var (
	ErrMissingAPIKey     = errors.New("OpenAI API key not set")
	ErrNoChoicesReturned = errors.New("no choices returned")
	ErrMalformedAnswer   = errors.New("model answer is not the expected JSON")
)

// chatService defines the minimal interface for chat completions.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// openaiChatService adapts the SDK's completion service to chatService.
type openaiChatService struct {
	client openai.Client
}

func (s *openaiChatService) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := s.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

// Opts holds configuration for the GenAI client.
type Opts struct {
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	DebugMode   bool
	StateDir    string
}

// Option configures the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel sets the chat model.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(o *Opts) { o.Temperature = t }
}

// WithMaxTokens caps the completion length.
func WithMaxTokens(n int) Option {
	return func(o *Opts) { o.MaxTokens = n }
}

// WithTimeout bounds each call.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// WithDebugMode writes every request and answer under stateDir/debug.
func WithDebugMode(stateDir string) Option {
	return func(o *Opts) {
		o.DebugMode = true
		o.StateDir = stateDir
	}
}

// Client wraps the OpenAI chat completion service.
type Client struct {
	chat        chatService
	model       string
	temperature float64
	maxTokens   int
	timeout     time.Duration
	debugMode   bool
	stateDir    string
}

// NewClient creates a GenAI client. The key falls back to OPENAI_API_KEY.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{Model: DefaultModel, MaxTokens: 300, Timeout: 8 * time.Second}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	cli := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	slog.Debug("genai.NewClient: created", "model", cfg.Model, "debug", cfg.DebugMode)
	return &Client{
		chat:        &openaiChatService{client: cli},
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     cfg.Timeout,
		debugMode:   cfg.DebugMode,
		stateDir:    cfg.StateDir,
	}, nil
}

// GeneratePromptWithContext runs one system+user completion and returns the text.
func (c *Client) GeneratePromptWithContext(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
		Temperature: openai.Float(c.temperature),
	}
	if c.maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(c.maxTokens))
	}
	resp, err := c.chat.Create(ctx, params)
	if err != nil {
		slog.Error("genai.Client.GeneratePromptWithContext: completion failed", "model", c.model, "error", err)
		return "", fmt.Errorf("chat completion: %w", err)
	}
	c.writeDebug("GeneratePromptWithContext", params, resp)
	if len(resp.Choices) == 0 {
		return "", ErrNoChoicesReturned
	}
	return resp.Choices[0].Message.Content, nil
}

// GeneratePrompt is GeneratePromptWithContext without a caller context.
func (c *Client) GeneratePrompt(systemPrompt, userPrompt string) (string, error) {
	return c.GeneratePromptWithContext(context.Background(), systemPrompt, userPrompt)
}

// generateJSON runs a completion and decodes its JSON answer into out.
func (c *Client) generateJSON(ctx context.Context, systemPrompt, userPrompt string, out any) error {
	text, err := c.GeneratePromptWithContext(ctx, systemPrompt, userPrompt)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(stripFences(text)), out); err != nil {
		slog.Warn("genai.Client.generateJSON: malformed answer", "answer", text, "error", err)
		return fmt.Errorf("%w: %v", ErrMalformedAnswer, err)
	}
	return nil
}

// stripFences removes a Markdown code fence some models wrap JSON in.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

const classifySystemPrompt = `Sos el clasificador de un asistente de atención al cliente de una administración de consorcios en Argentina.
Clasificá el mensaje del cliente en una de estas intenciones:
- PAYMENT_REGISTRATION: quiere informar o registrar el pago de expensas.
- SERVICE_REQUEST: quiere pedir un servicio técnico o reportar un desperfecto no urgente.
- EMERGENCY: reporta una emergencia (pérdida de gas, incendio, inundación, persona atrapada).
- NONE: ninguna de las anteriores o no queda claro.
Respondé solo con JSON: {"intent": "<INTENCION>"}`

// ClassifyIntent maps free text to a menu intent, or IntentNone.
func (c *Client) ClassifyIntent(ctx context.Context, text string) (models.Intent, error) {
	var answer struct {
		Intent string `json:"intent"`
	}
	if err := c.generateJSON(ctx, classifySystemPrompt, text, &answer); err != nil {
		return models.IntentNone, err
	}
	intent := models.Intent(strings.ToUpper(strings.TrimSpace(answer.Intent)))
	for _, known := range models.MenuIntents {
		if intent == known {
			slog.Debug("genai.Client.ClassifyIntent: classified", "intent", intent)
			return intent, nil
		}
	}
	return models.IntentNone, nil
}

// extractableFields are the text fields the model may fill. Attachments are
// media-only.
var extractableFields = []models.FieldKey{
	models.FieldPaymentDate,
	models.FieldAmount,
	models.FieldAddress,
	models.FieldUnit,
	models.FieldComment,
	models.FieldServiceType,
	models.FieldDetail,
}

var extractSystemPrompt = `Extraé datos del mensaje de un cliente de una administración de consorcios en Argentina.
Claves posibles: ` + joinFields(extractableFields) + `.
- fecha_pago: fecha del pago como DD/MM/AAAA.
- monto: importe en pesos, solo números.
- direccion: calle y altura.
- piso_depto: piso y departamento.
- tipo_servicio: tipo de servicio técnico pedido.
- detalle: descripción del problema.
Incluí solo las claves que el mensaje menciona explícitamente, sin inventar.
Respondé solo con un objeto JSON de clave a texto, o {} si no hay datos.`

func joinFields(keys []models.FieldKey) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = string(k)
	}
	return strings.Join(parts, ", ")
}

// ExtractStructuredFields pulls field values out of a free-form message.
// Unknown keys and empty values are dropped; the caller validates the rest.
func (c *Client) ExtractStructuredFields(ctx context.Context, text string) (map[models.FieldKey]string, error) {
	var raw map[string]any
	if err := c.generateJSON(ctx, extractSystemPrompt, text, &raw); err != nil {
		return nil, err
	}
	out := make(map[models.FieldKey]string)
	for _, key := range extractableFields {
		v, ok := raw[string(key)]
		if !ok {
			continue
		}
		var s string
		switch val := v.(type) {
		case string:
			s = strings.TrimSpace(val)
		case float64:
			s = strings.TrimSuffix(fmt.Sprintf("%.2f", val), ".00")
		}
		if s != "" {
			out[key] = s
		}
	}
	slog.Debug("genai.Client.ExtractStructuredFields: extracted", "count", len(out))
	return out, nil
}

const humanSystemPrompt = `Decidí si el cliente pide hablar con una persona (operador, humano, alguien de la administración) en lugar de un asistente automático.
Respondé solo con JSON: {"match": true} o {"match": false}`

const contactSystemPrompt = `Decidí si el cliente pide datos de contacto de la administración (teléfono, email, dirección de la oficina u horarios).
Respondé solo con JSON: {"match": true} o {"match": false}`

// DetectsHumanRequest reports whether the client asks for a person.
func (c *Client) DetectsHumanRequest(ctx context.Context, text string) (bool, error) {
	return c.detect(ctx, humanSystemPrompt, text)
}

// DetectsContactInfoRequest reports whether the client asks for contact details.
func (c *Client) DetectsContactInfoRequest(ctx context.Context, text string) (bool, error) {
	return c.detect(ctx, contactSystemPrompt, text)
}

func (c *Client) detect(ctx context.Context, systemPrompt, text string) (bool, error) {
	var answer struct {
		Match bool `json:"match"`
	}
	if err := c.generateJSON(ctx, systemPrompt, text, &answer); err != nil {
		return false, err
	}
	return answer.Match, nil
}

// writeDebug stores one request/answer pair as JSON when debug mode is on.
func (c *Client) writeDebug(method string, params openai.ChatCompletionNewParams, resp openai.ChatCompletion) {
	if !c.debugMode || c.stateDir == "" {
		return
	}
	dir := filepath.Join(c.stateDir, "debug")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Warn("genai.Client.writeDebug: failed to create debug dir", "error", err)
		return
	}
	now := time.Now()
	entry := map[string]any{
		"timestamp": now.Format(time.RFC3339Nano),
		"method":    method,
		"model":     c.model,
		"params":    params,
		"response":  resp,
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		slog.Warn("genai.Client.writeDebug: failed to marshal", "error", err)
		return
	}
	name := fmt.Sprintf("genai_%s_%d.json", now.Format("20060102_150405"), now.UnixNano())
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		slog.Warn("genai.Client.writeDebug: failed to write", "error", err)
	}
}
