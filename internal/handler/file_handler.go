package handler

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"confidential-storage/internal/domain"
	"confidential-storage/internal/fault"
	"confidential-storage/internal/fhe"
	"confidential-storage/internal/middleware"
	"confidential-storage/internal/service"
	"confidential-storage/pkg/response"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
)

// multipart framing allowance on top of the file size limit
const formOverhead = 1 << 20

type FileHandler struct {
	store    *service.StoreService
	reveals  *service.RevealService
	files    *service.FileService
	session  *fhe.Session
	owner    common.Address
	maxSize  int64
	validate *validator.Validate
}

func NewFileHandler(
	store *service.StoreService,
	reveals *service.RevealService,
	files *service.FileService,
	session *fhe.Session,
	owner common.Address,
	maxSize int64,
) *FileHandler {
	return &FileHandler{
		store:    store,
		reveals:  reveals,
		files:    files,
		session:  session,
		owner:    owner,
		maxSize:  maxSize,
		validate: validator.New(),
	}
}

type storeForm struct {
	Filename string `validate:"required,max=255"`
}

type gatewayQuery struct {
	CID string `validate:"omitempty,min=8,max=128"`
}

// authorized admits only tokens issued for the wallet this server signs with.
func (h *FileHandler) authorized(w http.ResponseWriter, r *http.Request) bool {
	addr, ok := middleware.GetAddress(r)
	if !ok {
		response.Unauthorized(w, "Missing wallet address")
		return false
	}
	if addr != h.owner {
		response.Forbidden(w, "Token was not issued for the connected wallet")
		return false
	}
	return true
}

func fileID(r *http.Request) (uint64, error) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		return 0, fault.ErrInvalidRequest
	}
	return id, nil
}

func (h *FileHandler) List(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(w, r) {
		return
	}

	files, err := h.files.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.Success(w, files)
}

func (h *FileHandler) Store(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(w, r) {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxSize+formOverhead)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, fault.ErrSizeLimitExceeded)
			return
		}
		response.BadRequest(w, "Missing file")
		return
	}
	defer file.Close()

	form := storeForm{Filename: strings.TrimSpace(r.FormValue("filename"))}
	if form.Filename == "" {
		form.Filename = header.Filename
	}
	if form.Filename == "" {
		writeError(w, r, fault.ErrEmptyFilename)
		return
	}
	if err := h.validate.Struct(form); err != nil {
		response.Fail(w, http.StatusBadRequest, "Filename is too long", fault.Kind(fault.ErrInvalidRequest))
		return
	}

	// one extra byte lets the workflow see an oversized file
	data, err := io.ReadAll(io.LimitReader(file, h.maxSize+1))
	if err != nil {
		response.BadRequest(w, "Failed to read file")
		return
	}

	result, err := h.store.Store(r.Context(), form.Filename, data)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.Created(w, result)
}

func (h *FileHandler) Reveal(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(w, r) {
		return
	}

	id, err := fileID(r)
	if err != nil {
		response.BadRequest(w, "Invalid file id")
		return
	}

	result, err := h.reveals.RevealByID(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.Success(w, result)
}

func (h *FileHandler) Download(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(w, r) {
		return
	}

	id, err := fileID(r)
	if err != nil {
		response.BadRequest(w, "Invalid file id")
		return
	}

	filename, data, err := h.files.Download(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (h *FileHandler) Gateway(w http.ResponseWriter, r *http.Request) {
	q := gatewayQuery{CID: strings.TrimSpace(r.URL.Query().Get("cid"))}
	if err := h.validate.Struct(q); err != nil {
		response.BadRequest(w, "Invalid CID")
		return
	}

	resp := h.files.Gateway()
	if q.CID != "" {
		url, err := h.files.GatewayURL(q.CID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		resp.URL = url
	}
	response.Success(w, resp)
}

func (h *FileHandler) Session(w http.ResponseWriter, r *http.Request) {
	response.Success(w, &domain.SessionResponse{
		Address: h.owner.Hex(),
		Ready:   h.session.Ready(),
	})
}

func (h *FileHandler) ResetSession(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(w, r) {
		return
	}

	h.reveals.Reset()
	response.Success(w, map[string]bool{"reset": true})
}
