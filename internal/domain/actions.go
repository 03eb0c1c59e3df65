package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

type ActionName string

const (
	ActionAddProduct    ActionName = "addProduct"
	ActionUpdateProduct ActionName = "updateProduct"
	ActionDeleteProduct ActionName = "deleteProduct"
	ActionDeleteBill    ActionName = "deleteBill"
	ActionConfirmBill   ActionName = "confirmBill"
)

// Action is one mutation the remote can reproduce on its own. The set of
// implementations is closed; switch on the concrete type to handle each.
type Action interface {
	Name() ActionName
	isAction()
}

type AddProduct struct {
	Product Product `json:"product"`
}

type UpdateProduct struct {
	Product Product `json:"product"`
}

type DeleteProduct struct {
	RowIndex RowID `json:"realRowIndex"`
}

type DeleteBill struct {
	BillID string `json:"billId"`
}

type ConfirmBill struct {
	BillDraft
}

func (AddProduct) Name() ActionName    { return ActionAddProduct }
func (UpdateProduct) Name() ActionName { return ActionUpdateProduct }
func (DeleteProduct) Name() ActionName { return ActionDeleteProduct }
func (DeleteBill) Name() ActionName    { return ActionDeleteBill }
func (ConfirmBill) Name() ActionName   { return ActionConfirmBill }

func (AddProduct) isAction()    {}
func (UpdateProduct) isAction() {}
func (DeleteProduct) isAction() {}
func (DeleteBill) isAction()    {}
func (ConfirmBill) isAction()   {}

// EncodeAction builds the POST body for a: the action's own fields plus
// "action" and, when set, "requestId".
func EncodeAction(a Action, requestID string) ([]byte, error) {
	fields, err := actionFields(a)
	if err != nil {
		return nil, err
	}
	fields["action"] = mustRaw(a.Name())
	if requestID != "" {
		fields["requestId"] = mustRaw(requestID)
	}
	return json.Marshal(fields)
}

// DecodeAction parses a POST body back into its Action. The request id is
// returned separately and may be empty.
func DecodeAction(body []byte) (Action, string, error) {
	var head struct {
		Action    ActionName `json:"action"`
		RequestID string     `json:"requestId"`
	}
	if err := json.Unmarshal(body, &head); err != nil {
		return nil, "", fmt.Errorf("decode action: %w", err)
	}
	a, err := decodePayload(head.Action, body)
	if err != nil {
		return nil, "", err
	}
	return a, head.RequestID, nil
}

func decodePayload(name ActionName, body []byte) (Action, error) {
	var (
		a   Action
		err error
	)
	switch name {
	case ActionAddProduct:
		var v AddProduct
		err = json.Unmarshal(body, &v)
		a = v
	case ActionUpdateProduct:
		var v UpdateProduct
		err = json.Unmarshal(body, &v)
		a = v
	case ActionDeleteProduct:
		var v DeleteProduct
		err = json.Unmarshal(body, &v)
		a = v
	case ActionDeleteBill:
		var v DeleteBill
		err = json.Unmarshal(body, &v)
		a = v
	case ActionConfirmBill:
		var v ConfirmBill
		err = json.Unmarshal(body, &v)
		a = v
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, name)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", name, err)
	}
	return a, nil
}

func actionFields(a Action) (map[string]json.RawMessage, error) {
	raw, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", a.Name(), err)
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", a.Name(), err)
	}
	return fields, nil
}

func mustRaw(v any) json.RawMessage {
	raw, _ := json.Marshal(v)
	return raw
}

// QueueItem is one pending mutation waiting for the remote. ID only serves
// local deduplication; order is the position in the queue.
type QueueItem struct {
	ID         int64
	RequestID  string
	Action     Action
	EnqueuedAt time.Time
}

type queueItemWire struct {
	ID         int64           `json:"id"`
	RequestID  string          `json:"requestId"`
	Action     ActionName      `json:"action"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
}

func (q QueueItem) MarshalJSON() ([]byte, error) {
	if q.Action == nil {
		return nil, fmt.Errorf("%w: queue item %d has no action", ErrUnknownAction, q.ID)
	}
	payload, err := EncodeAction(q.Action, q.RequestID)
	if err != nil {
		return nil, err
	}
	return json.Marshal(queueItemWire{
		ID:         q.ID,
		RequestID:  q.RequestID,
		Action:     q.Action.Name(),
		Payload:    payload,
		EnqueuedAt: q.EnqueuedAt,
	})
}

func (q *QueueItem) UnmarshalJSON(data []byte) error {
	var w queueItemWire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("decode queue item: %w", err)
	}
	a, err := decodePayload(w.Action, w.Payload)
	if err != nil {
		return err
	}
	*q = QueueItem{
		ID:         w.ID,
		RequestID:  w.RequestID,
		Action:     a,
		EnqueuedAt: w.EnqueuedAt,
	}
	return nil
}
