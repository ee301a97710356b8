package payments

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/bissquit/payments-admin/internal/pkg/ctxlog"
	"github.com/bissquit/payments-admin/internal/pkg/httputil"
	"github.com/bissquit/payments-admin/internal/receipts"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// Response messages.
const (
	msgNotPDF          = "Error: Solo archivos PDF"
	msgCreateFailed    = "Error al crear el pago"
	msgListFailed      = "Error al obtener los pagos"
	msgPaymentNotFound = "Pago no encontrado"
	msgGetFailed       = "Error al obtener el pago"
	msgUpdateFailed    = "Error al actualizar el pago"
	msgDeleteFailed    = "Error al eliminar el pago"
	msgPaymentDeleted  = "Pago eliminado"
	msgReceiptNotFound = "Recibo no encontrado"
	msgInvalidBody     = "Solicitud inválida"
)

// receiptField is the multipart field carrying the PDF.
const receiptField = "receipt"

// multipartMemory is how much of a multipart body is buffered in memory
// before spilling to temporary files.
const multipartMemory = 1 << 20

// maxJSONBody caps JSON request bodies.
const maxJSONBody = 64 << 10

// maxAmountText caps the length of a form-encoded amount.
const maxAmountText = 64

// errReceiptStore marks failures of the receipt store, as opposed to a bad upload.
var errReceiptStore = errors.New("store receipt")

// Handler handles HTTP requests for the payments module.
type Handler struct {
	service   *Service
	store     receipts.Store
	maxUpload int64
	validator *validator.Validate
}

// NewHandler creates a payments handler. Request bodies larger than maxUpload bytes are rejected.
func NewHandler(service *Service, store receipts.Store, maxUpload int64) *Handler {
	return &Handler{
		service:   service,
		store:     store,
		maxUpload: maxUpload,
		validator: validator.New(),
	}
}

// RegisterRoutes registers payment routes. The caller applies the role gate.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.CreatePayment)
	r.Get("/", h.ListPayments)
	r.Get("/{id}", h.GetPayment)
	r.Put("/{id}", h.UpdatePayment)
	r.Delete("/{id}", h.DeletePayment)
	r.Get("/{id}/receipt", h.GetReceipt)
}

// CreatePaymentRequest represents the JSON create body.
type CreatePaymentRequest struct {
	Amount  *decimal.Decimal `json:"amount" validate:"required"`
	Receipt string           `json:"receipt" validate:"required,max=1024"`
	UserID  int64            `json:"userId" validate:"required,gt=0"`
}

// CreatePayment handles POST /. The body is either multipart with a PDF in
// the receipt field, or JSON naming an already stored receipt.
func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var input CreateInput
	var uploaded string

	if isMultipart(r) {
		form, err := h.parseMultipart(w, r)
		if err != nil {
			h.writeFormError(w, r, err, msgCreateFailed)
			return
		}
		defer form.cleanup()

		amount, err := parseAmount(form.value("amount"))
		if err != nil {
			httputil.Error(w, http.StatusBadRequest, msgCreateFailed)
			return
		}
		userID, err := strconv.ParseInt(form.value("userId"), 10, 64)
		if err != nil {
			httputil.Error(w, http.StatusBadRequest, msgCreateFailed)
			return
		}

		receipt, err := h.saveReceipt(r, form)
		if err != nil {
			h.writeFormError(w, r, err, msgCreateFailed)
			return
		}
		if receipt != "" {
			uploaded = receipt
		} else {
			receipt = form.value(receiptField)
		}

		input = CreateInput{Amount: amount, Receipt: receipt, UserID: userID}
	} else {
		var req CreatePaymentRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(&req); err != nil {
			httputil.Error(w, http.StatusBadRequest, msgCreateFailed)
			return
		}
		if err := h.validator.Struct(req); err != nil {
			ctxlog.FromContext(r.Context()).Debug("invalid payment", "error", err)
			httputil.Error(w, http.StatusBadRequest, msgCreateFailed)
			return
		}
		input = CreateInput{Amount: *req.Amount, Receipt: req.Receipt, UserID: req.UserID}
	}

	payment, err := h.service.CreatePayment(r.Context(), input)
	if err != nil {
		h.discard(r, uploaded)
		ctxlog.FromContext(r.Context()).Warn("payment create failed", "error", err)
		httputil.Error(w, http.StatusBadRequest, msgCreateFailed)
		return
	}

	httputil.JSON(w, http.StatusCreated, payment)
}

// ListPayments handles GET /.
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	payments, err := h.service.ListPayments(r.Context())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, msgListFailed)
		return
	}

	httputil.JSON(w, http.StatusOK, payments)
}

// GetPayment handles GET /{id}.
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		httputil.Error(w, http.StatusNotFound, msgPaymentNotFound)
		return
	}

	payment, err := h.service.GetPayment(r.Context(), id)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, msgGetFailed, notFoundMapping)
		return
	}

	httputil.JSON(w, http.StatusOK, payment)
}

// UpdatePaymentRequest represents the partial JSON update body.
type UpdatePaymentRequest struct {
	Amount  *decimal.Decimal `json:"amount"`
	Receipt string           `json:"receipt" validate:"max=1024"`
}

// UpdatePayment handles PUT /{id}.
func (h *Handler) UpdatePayment(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		httputil.Error(w, http.StatusNotFound, msgPaymentNotFound)
		return
	}

	var input UpdateInput
	var uploaded string

	if isMultipart(r) {
		form, err := h.parseMultipart(w, r)
		if err != nil {
			h.writeFormError(w, r, err, msgInvalidBody)
			return
		}
		defer form.cleanup()

		if raw := form.value("amount"); raw != "" {
			amount, err := parseAmount(raw)
			if err != nil {
				httputil.Error(w, http.StatusBadRequest, msgInvalidBody)
				return
			}
			input.Amount = amount
		}

		receipt, err := h.saveReceipt(r, form)
		if err != nil {
			h.writeFormError(w, r, err, msgUpdateFailed)
			return
		}
		if receipt != "" {
			uploaded = receipt
		} else {
			receipt = form.value(receiptField)
		}
		input.Receipt = receipt
	} else {
		var req UpdatePaymentRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(&req); err != nil {
			httputil.Error(w, http.StatusBadRequest, msgInvalidBody)
			return
		}
		if err := h.validator.Struct(req); err != nil {
			httputil.Error(w, http.StatusBadRequest, msgInvalidBody)
			return
		}
		if req.Amount != nil {
			input.Amount = *req.Amount
		}
		input.Receipt = req.Receipt
	}

	payment, err := h.service.UpdatePayment(r.Context(), id, input)
	if err != nil {
		h.discard(r, uploaded)
		httputil.HandleError(r.Context(), w, err, msgUpdateFailed, notFoundMapping, invalidUpdateMapping)
		return
	}

	httputil.JSON(w, http.StatusOK, payment)
}

// DeletePayment handles DELETE /{id}.
func (h *Handler) DeletePayment(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		httputil.Error(w, http.StatusNotFound, msgPaymentNotFound)
		return
	}

	if err := h.service.DeletePayment(r.Context(), id); err != nil {
		httputil.HandleError(r.Context(), w, err, msgDeleteFailed, notFoundMapping)
		return
	}

	httputil.Message(w, http.StatusOK, msgPaymentDeleted)
}

// GetReceipt handles GET /{id}/receipt and streams the stored PDF.
func (h *Handler) GetReceipt(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		httputil.Error(w, http.StatusNotFound, msgPaymentNotFound)
		return
	}

	payment, err := h.service.GetPayment(r.Context(), id)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, msgGetFailed, notFoundMapping)
		return
	}

	rc, err := h.store.Open(r.Context(), payment.Receipt)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, msgGetFailed,
			httputil.ErrorMapping{Error: receipts.ErrReceiptNotFound, Status: http.StatusNotFound, Message: msgReceiptNotFound},
		)
		return
	}
	defer func() { _ = rc.Close() }()

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": payment.Receipt}))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		ctxlog.FromContext(r.Context()).Warn("stream receipt", "error", err, "payment_id", id)
	}
}

var notFoundMapping = httputil.ErrorMapping{Error: ErrPaymentNotFound, Status: http.StatusNotFound, Message: msgPaymentNotFound}

var invalidUpdateMapping = httputil.ErrorMapping{Error: ErrInvalidPayment, Status: http.StatusBadRequest, Message: msgInvalidBody}

// parseAmount parses a form-encoded amount.
func parseAmount(raw string) (decimal.Decimal, error) {
	if len(raw) > maxAmountText {
		return decimal.Decimal{}, fmt.Errorf("amount longer than %d characters", maxAmountText)
	}
	return decimal.NewFromString(raw)
}

// multipartForm wraps a parsed multipart request body.
type multipartForm struct {
	r *http.Request
}

func (f multipartForm) value(key string) string {
	return strings.TrimSpace(f.r.FormValue(key))
}

func (f multipartForm) cleanup() {
	if f.r.MultipartForm != nil {
		_ = f.r.MultipartForm.RemoveAll()
	}
}

func (h *Handler) parseMultipart(w http.ResponseWriter, r *http.Request) (multipartForm, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return multipartForm{}, fmt.Errorf("parse multipart form: %w", err)
	}
	return multipartForm{r: r}, nil
}

// saveReceipt stores the uploaded receipt file, if any, and returns its key.
// An empty key with a nil error means no file was sent.
func (h *Handler) saveReceipt(r *http.Request, form multipartForm) (string, error) {
	file, header, err := form.r.FormFile(receiptField)
	if errors.Is(err, http.ErrMissingFile) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read receipt file: %w", err)
	}
	defer func() { _ = file.Close() }()

	if err := receipts.ValidatePDF(header.Filename, header.Header.Get("Content-Type")); err != nil {
		return "", err
	}

	key, err := h.store.Save(r.Context(), header.Filename, file)
	if err != nil {
		return "", fmt.Errorf("%w: %w", errReceiptStore, err)
	}
	ctxlog.FromContext(r.Context()).Info("receipt stored", "key", key, "size", header.Size)
	return key, nil
}

// writeFormError answers a rejected upload; non-PDF files get their own message.
func (h *Handler) writeFormError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	if errors.Is(err, receipts.ErrNotPDF) {
		httputil.Error(w, http.StatusBadRequest, msgNotPDF)
		return
	}
	ctxlog.FromContext(r.Context()).Warn("multipart request rejected", "error", err)

	if errors.Is(err, errReceiptStore) {
		httputil.Error(w, http.StatusInternalServerError, fallback)
		return
	}
	httputil.Error(w, http.StatusBadRequest, fallback)
}

// discard removes a receipt uploaded for a write that did not happen.
func (h *Handler) discard(r *http.Request, key string) {
	if key == "" {
		return
	}
	if err := h.store.Delete(r.Context(), key); err != nil {
		ctxlog.FromContext(r.Context()).Warn("discard receipt", "error", err, "key", key)
	}
}

func isMultipart(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "multipart/form-data"
}

// parseID reads the {id} path parameter. Ids that are not positive integers
// cannot exist, so callers answer them with 404.
func parseID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
