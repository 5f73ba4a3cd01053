// Package http provides the REST API of the consultation service, built on gin.
//
// Every route under /api/v1 requires an `Authorization: Bearer <jwt>` header
// whose subject is the user ID and whose role claim is one of user, doctor or
// admin.
//
//   - POST /consultations, GET /consultations, GET /consultations/:id:
//     booking and lookup exchanging the `consultationDTO` payload defined in
//     consultation_handler.go. Listing accepts patientId, doctorId and a comma
//     separated status filter.
//   - PATCH /consultations/:id/status: manual transition by the consultation's
//     doctor. Body: {"status"}.
//   - GET /consultations/:id/chat-room: the room bound to the consultation.
//   - POST /chat-rooms/:id/messages, GET /chat-rooms/:id/messages: message
//     posting and history for participants, using chat.MessageView.
//   - POST /reminders, GET /reminders, GET/PUT/DELETE /reminders/:id:
//     reminder CRUD exchanging `reminderDTO` (reminder_handler.go).
//   - GET /notifications, GET /notifications/unread-count,
//     GET /notifications/:id (marks read), POST /notifications/:id/read,
//     POST /notifications/read-all: the notification inbox.
//   - POST /device-tokens, DELETE /device-tokens/:token: push registration.
//
// GET /healthz is served without authentication. Failures share the
// {"error_code","message","errors"} envelope with localized messages.
package http
