package rpc

import (
	"encoding/json"
	"fmt"

	"github.com/boxvault/boxvault/core"
	"github.com/boxvault/boxvault/engine"
	"github.com/boxvault/boxvault/indexer"
)

// Handler holds all dependencies needed to serve RPC methods.
type Handler struct {
	engine  *engine.Engine
	state   core.State
	indexer *indexer.Indexer
}

// NewHandler creates an RPC Handler.
func NewHandler(eng *engine.Engine, idx *indexer.Indexer) *Handler {
	return &Handler{engine: eng, state: eng.State(), indexer: idx}
}

// Dispatch routes an RPC request to the correct method.
func (h *Handler) Dispatch(req Request) Response {
	switch req.Method {
	case "sendOp":
		return h.sendOp(req)

	case "getGlobal":
		return h.getGlobal(req)

	case "getBatch":
		return h.getBatch(req)

	case "getBox":
		return h.getBox(req)

	case "getAssignment":
		return h.getAssignment(req)

	case "getPrice":
		return h.getPrice(req)

	case "getBalance":
		return h.getBalance(req)

	case "getAsset":
		return h.getAsset(req)

	case "getBoxesByOwner":
		return h.getBoxesByOwner(req)

	case "getBuybacksByUser":
		return h.getBuybacksByUser(req)

	case "getStateRoot":
		return okResponse(req.ID, h.state.ComputeRoot())

	default:
		return errResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("method %q not found", req.Method))
	}
}

func (h *Handler) sendOp(req Request) Response {
	var op core.Operation
	if err := json.Unmarshal(req.Params, &op); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	// Recompute the ID server-side; do not trust the client-provided value.
	op.ID = op.Hash()
	if err := h.engine.Execute(&op); err != nil {
		return errResponse(req.ID, CodeOpRejected, err.Error())
	}
	return okResponse(req.ID, map[string]string{"op_id": op.ID})
}

func (h *Handler) getGlobal(req Request) Response {
	g, err := h.state.GetGlobal()
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, g)
}

func (h *Handler) getBatch(req Request) Response {
	var params struct {
		BatchID uint64 `json:"batch_id"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	batch, err := h.state.GetBatch(params.BatchID)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, batch)
}

func (h *Handler) getBox(req Request) Response {
	var params struct {
		AssetID string `json:"asset_id"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.AssetID == "" {
		return errResponse(req.ID, CodeInvalidParams, "asset_id is required")
	}
	box, err := h.state.GetBox(params.AssetID)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, box)
}

func (h *Handler) getAssignment(req Request) Response {
	var params struct {
		InventoryIDHash core.Hash32 `json:"inventory_id_hash"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.InventoryIDHash.IsZero() {
		return errResponse(req.ID, CodeInvalidParams, "inventory_id_hash is required")
	}
	a, err := h.state.GetAssignment(params.InventoryIDHash)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, a)
}

func (h *Handler) getPrice(req Request) Response {
	var params struct {
		InventoryIDHash core.Hash32 `json:"inventory_id_hash"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.InventoryIDHash.IsZero() {
		return errResponse(req.ID, CodeInvalidParams, "inventory_id_hash is required")
	}
	ps, err := h.state.GetPrice(params.InventoryIDHash)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, ps)
}

func (h *Handler) getBalance(req Request) Response {
	var params struct {
		Address string `json:"address"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.Address == "" {
		return errResponse(req.ID, CodeInvalidParams, "address is required")
	}
	acc, err := h.state.GetAccount(params.Address)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, map[string]any{"address": params.Address, "balance": acc.Balance})
}

func (h *Handler) getAsset(req Request) Response {
	var params struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.ID == "" {
		return errResponse(req.ID, CodeInvalidParams, "id is required")
	}
	asset, err := h.state.GetAsset(params.ID)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, asset)
}

func (h *Handler) getBoxesByOwner(req Request) Response {
	var params struct {
		Owner string `json:"owner"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.Owner == "" {
		return errResponse(req.ID, CodeInvalidParams, "owner is required")
	}
	ids, err := h.indexer.GetBoxesByOwner(params.Owner)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, ids)
}

func (h *Handler) getBuybacksByUser(req Request) Response {
	var params struct {
		User string `json:"user"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.User == "" {
		return errResponse(req.ID, CodeInvalidParams, "user is required")
	}
	recs, err := h.indexer.GetBuybacksByUser(params.User)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, recs)
}
