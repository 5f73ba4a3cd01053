package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/example/teleconsult/internal/application"
	"github.com/example/teleconsult/internal/chat"
	"github.com/example/teleconsult/internal/logging"
)

var (
	errBadRequestBody    = errors.New("無効なリクエスト形式です。")
	errInvalidTimestamp  = errors.New("日時は RFC3339 形式で指定してください。")
	errInvalidLimit      = errors.New("limit は正の整数で指定してください。")
	errMissingToken      = errors.New("認証トークンを指定してください")
	errMissingPrincipal  = errors.New("認証情報が見つかりません。")
	errNotRoomMember     = errors.New("このチャットルームに参加する権限がありません。")
	errInvalidStatusBody = errors.New("status を指定してください。")
)

type responder struct {
	logger *slog.Logger
}

func newResponder(logger *slog.Logger) responder {
	return responder{logger: defaultLogger(logger)}
}

func (r responder) writeJSON(c *gin.Context, status int, payload any) {
	if c == nil {
		return
	}
	if status == http.StatusNoContent || payload == nil {
		c.Status(status)
		return
	}
	c.JSON(status, payload)
}

// abort writes the envelope and stops the handler chain.
func (r responder) abort(c *gin.Context, status int, payload errorResponse) {
	c.Abort()
	r.writeJSON(c, status, payload)
}

func (r responder) writeError(c *gin.Context, status int, err error) {
	message := localizedStatusMessage(status)
	if err != nil {
		if msg := strings.TrimSpace(err.Error()); msg != "" {
			message = msg
		}
		ctx := c.Request.Context()
		r.loggerFor(ctx).WarnContext(ctx, "request failed", "status", status, "error", err)
	}

	r.abort(c, status, errorResponse{Message: message})
}

func (r responder) handleServiceError(c *gin.Context, err error) {
	if err == nil {
		r.writeError(c, http.StatusInternalServerError, errors.New("unknown error"))
		return
	}

	ctx := c.Request.Context()
	var (
		vErr     *application.ValidationError
		conflict *application.ConflictError
	)
	switch {
	case errors.As(err, &vErr):
		r.abort(c, http.StatusBadRequest, errorResponse{
			ErrorCode: "VALIDATION_FAILED",
			Message:   "入力内容に誤りがあります。",
			Errors:    localizeValidationErrors(vErr),
		})
	case errors.Is(err, application.ErrInvalidTransition):
		r.abort(c, http.StatusBadRequest, errorResponse{
			ErrorCode: "INVALID_TRANSITION",
			Message:   "現在の状態からこのステータスには変更できません。",
		})
	case errors.Is(err, chat.ErrInvalidSenderType):
		r.abort(c, http.StatusBadRequest, errorResponse{
			ErrorCode: "INVALID_SENDER_TYPE",
			Message:   "送信者種別が不正です。",
		})
	case errors.Is(err, chat.ErrEmptyMessage):
		r.abort(c, http.StatusBadRequest, errorResponse{
			ErrorCode: "EMPTY_MESSAGE",
			Message:   "メッセージ本文は必須です。",
		})
	case errors.Is(err, application.ErrUnauthorized):
		r.abort(c, http.StatusUnauthorized, errorResponse{
			ErrorCode: "AUTH_UNAUTHORIZED",
			Message:   "認証が必要です。",
		})
	case errors.Is(err, chat.ErrSenderTypeMismatch):
		r.abort(c, http.StatusForbidden, errorResponse{
			ErrorCode: "SENDER_TYPE_MISMATCH",
			Message:   "送信者種別がログイン中のアカウントと一致しません。",
		})
	case errors.Is(err, application.ErrForbidden):
		r.abort(c, http.StatusForbidden, errorResponse{
			ErrorCode: "AUTH_FORBIDDEN",
			Message:   "この操作を実行する権限がありません。",
		})
	case errors.Is(err, application.ErrNotFound), errors.Is(err, chat.ErrRoomNotFound):
		r.abort(c, http.StatusNotFound, errorResponse{Message: "指定されたリソースが見つかりません。"})
	case errors.As(err, &conflict):
		resp := errorResponse{
			ErrorCode: "SCHEDULE_CONFLICT",
			Message:   "指定された時間帯は既に予約されています。",
		}
		if len(conflict.ConsultationIDs) > 0 {
			resp.Errors = map[string]string{"consultationIds": strings.Join(conflict.ConsultationIDs, ",")}
		}
		r.abort(c, http.StatusConflict, resp)
	case errors.Is(err, chat.ErrRoomInactive):
		r.abort(c, http.StatusConflict, errorResponse{
			ErrorCode: "ROOM_INACTIVE",
			Message:   "チャットルームは現在利用できません。",
		})
	default:
		r.loggerFor(ctx).ErrorContext(ctx, "unhandled service error", "error", err, "error_kind", application.ErrorKind(err))
		r.abort(c, http.StatusInternalServerError, errorResponse{Message: "サーバー内部でエラーが発生しました。"})
	}
}

func (r responder) loggerFor(ctx context.Context) *slog.Logger {
	return logging.From(ctx, r.logger)
}

func localizedStatusMessage(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "リクエスト内容が正しくありません。"
	case http.StatusUnauthorized:
		return "認証が必要です。"
	case http.StatusForbidden:
		return "この操作を実行する権限がありません。"
	case http.StatusNotFound:
		return "指定されたリソースが見つかりません。"
	case http.StatusConflict:
		return "要求はリソースの現在の状態と競合しています。"
	default:
		return "サーバー内部でエラーが発生しました。"
	}
}

func localizeValidationErrors(vErr *application.ValidationError) map[string]string {
	if vErr == nil || len(vErr.FieldErrors) == 0 {
		return nil
	}

	translated := make(map[string]string, len(vErr.FieldErrors))
	for field, msg := range vErr.FieldErrors {
		translated[field] = translateValidationMessage(msg)
	}
	return translated
}

func translateValidationMessage(message string) string {
	switch message {
	case "patientId is required":
		return "患者 ID は必須です。"
	case "doctorId is required":
		return "医師 ID は必須です。"
	case "type is required":
		return "種別は必須です。"
	case "scheduledAt is required":
		return "予約日時は必須です。"
	case "scheduledAt must fall on today or yesterday":
		return "予約日時は本日または前日の日付で指定してください。"
	case "duration must be positive":
		return "所要時間は正の整数で指定してください。"
	case fmt.Sprintf("duration must not exceed %d minutes", application.MaxConsultationMinutes):
		return fmt.Sprintf("所要時間は %d 分以内で指定してください。", application.MaxConsultationMinutes)
	case "title is required":
		return "タイトルは必須です。"
	case "title is required when no template exists for the type":
		return "この種別にはテンプレートがないため、タイトルは必須です。"
	case "message is required when no template exists for the type":
		return "この種別にはテンプレートがないため、本文は必須です。"
	case "userId is required":
		return "ユーザー ID は必須です。"
	case "repeatType must be one of ONCE, DAILY, WEEKLY, MONTHLY":
		return "繰り返し種別は ONCE, DAILY, WEEKLY, MONTHLY のいずれかで指定してください。"
	case "startAt is required":
		return "開始日時は必須です。"
	case "endAt must be after startAt":
		return "終了日時は開始日時より後である必要があります。"
	case "token is required":
		return "デバイストークンは必須です。"
	case "platform is required":
		return "プラットフォームは必須です。"
	case "platform must be one of ios, android, web":
		return "プラットフォームは ios, android, web のいずれかで指定してください。"
	default:
		return message
	}
}

type errorResponse struct {
	ErrorCode string            `json:"error_code,omitempty"`
	Message   string            `json:"message"`
	Errors    map[string]string `json:"errors,omitempty"`
}
