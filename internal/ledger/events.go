package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/hyperledger/fabric-gateway/pkg/client"
	"github.com/hyperledger/fabric-protos-go-apiv2/common"
	"github.com/hyperledger/fabric-protos-go-apiv2/peer"
	"google.golang.org/protobuf/proto"

	"github.com/oshokin/ledger-alarm-bridge/internal/logger"
)

// Event is a contract event taken from a committed block.
type Event struct {
	// BlockNumber is the block carrying the transaction.
	BlockNumber uint64
	// TransactionID is the transaction that emitted the event.
	TransactionID string
	// ChaincodeName is the emitting contract.
	ChaincodeName string
	// EventName is the name the contract gave the event.
	EventName string
	// Payload is the opaque event body.
	Payload []byte
	// Valid reports whether the transaction committed as VALID.
	Valid bool
	// ValidationCode is the commit validation code name.
	ValidationCode string
}

// eventConfig collects EventOption values.
type eventConfig struct {
	checkpointFile string
}

// EventOption configures a contract event subscription.
type EventOption func(*eventConfig)

// WithCheckpointFile resumes the subscription after the last block recorded
// in path and records every block once its events were handed off.
func WithCheckpointFile(path string) EventOption {
	return func(c *eventConfig) {
		c.checkpointFile = path
	}
}

// ContractEvents subscribes to committed blocks and streams the events of
// contract in block and transaction order, invalid transactions included.
// The channel closes when ctx ends or the block stream fails.
func (c *gatewayChannel) ContractEvents(
	ctx context.Context,
	contract string,
	opts ...EventOption,
) (<-chan *Event, error) {
	if err := c.session.check(); err != nil {
		return nil, err
	}

	if contract == "" {
		return nil, fmt.Errorf("%w: contract name is empty", ErrNotFound)
	}

	var cfg eventConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	var (
		options      []client.BlockEventsOption
		checkpointer *client.FileCheckpointer
	)

	if cfg.checkpointFile != "" {
		var err error

		checkpointer, err = client.NewFileCheckpointer(cfg.checkpointFile)
		if err != nil {
			return nil, fmt.Errorf("open event checkpoint: %w", err)
		}

		options = append(options, client.WithCheckpoint(checkpointer))
	}

	blocks, err := c.network.BlockEvents(ctx, options...)
	if err != nil {
		if checkpointer != nil {
			_ = checkpointer.Close()
		}

		return nil, fmt.Errorf("%w: subscribe to block events on %s: %w", ErrConnection, c.Name(), err)
	}

	out := make(chan *Event)

	go func() {
		defer close(out)

		if checkpointer != nil {
			defer func() {
				if err := checkpointer.Close(); err != nil {
					logger.WarnKV(ctx, "Failed to close event checkpoint", "error", err)
				}
			}()
		}

		for block := range blocks {
			events, err := DecodeBlock(block, contract)
			if err != nil {
				logger.WarnKV(ctx, "Skipped undecodable transactions",
					"block", block.GetHeader().GetNumber(), "error", err)
			}

			for _, event := range events {
				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
			}

			if checkpointer != nil {
				if err := checkpointer.CheckpointBlock(block.GetHeader().GetNumber()); err != nil {
					logger.WarnKV(ctx, "Failed to checkpoint block",
						"block", block.GetHeader().GetNumber(), "error", err)
				}
			}
		}
	}()

	return out, nil
}

// DecodeBlock extracts the events emitted by contract from a block, paired
// with the validation code of their transaction. Transactions that cannot be
// decoded are skipped and reported in the joined error.
func DecodeBlock(block *common.Block, contract string) ([]*Event, error) {
	var (
		number = block.GetHeader().GetNumber()
		filter = validationFilter(block)
		events []*Event
		errs   []error
	)

	for i, data := range block.GetData().GetData() {
		code := peer.TxValidationCode_INVALID_OTHER_REASON
		if i < len(filter) {
			code = peer.TxValidationCode(filter[i])
		}

		txID, emitted, err := decodeTransaction(data)
		if err != nil {
			errs = append(errs, fmt.Errorf("transaction %d: %w", i, err))

			continue
		}

		for _, event := range emitted {
			if event.GetChaincodeId() != contract {
				continue
			}

			events = append(events, &Event{
				BlockNumber:    number,
				TransactionID:  txID,
				ChaincodeName:  event.GetChaincodeId(),
				EventName:      event.GetEventName(),
				Payload:        event.GetPayload(),
				Valid:          code == peer.TxValidationCode_VALID,
				ValidationCode: code.String(),
			})
		}
	}

	return events, errors.Join(errs...)
}

// validationFilter returns the per-transaction validation codes of a block.
func validationFilter(block *common.Block) []byte {
	metadata := block.GetMetadata().GetMetadata()

	index := int(common.BlockMetadataIndex_TRANSACTIONS_FILTER)
	if index >= len(metadata) {
		return nil
	}

	return metadata[index]
}

// decodeTransaction walks envelope → payload → transaction → actions and
// returns the chaincode events of an endorser transaction. Other
// transaction types yield no events.
func decodeTransaction(data []byte) (string, []*peer.ChaincodeEvent, error) {
	envelope := new(common.Envelope)
	if err := proto.Unmarshal(data, envelope); err != nil {
		return "", nil, fmt.Errorf("envelope: %w", err)
	}

	payload := new(common.Payload)
	if err := proto.Unmarshal(envelope.GetPayload(), payload); err != nil {
		return "", nil, fmt.Errorf("payload: %w", err)
	}

	channelHeader := new(common.ChannelHeader)
	if err := proto.Unmarshal(payload.GetHeader().GetChannelHeader(), channelHeader); err != nil {
		return "", nil, fmt.Errorf("channel header: %w", err)
	}

	if common.HeaderType(channelHeader.GetType()) != common.HeaderType_ENDORSER_TRANSACTION {
		return channelHeader.GetTxId(), nil, nil
	}

	transaction := new(peer.Transaction)
	if err := proto.Unmarshal(payload.GetData(), transaction); err != nil {
		return "", nil, fmt.Errorf("transaction: %w", err)
	}

	var events []*peer.ChaincodeEvent

	for _, action := range transaction.GetActions() {
		event, err := decodeAction(action)
		if err != nil {
			return "", nil, err
		}

		if event != nil {
			events = append(events, event)
		}
	}

	return channelHeader.GetTxId(), events, nil
}

// decodeAction returns the chaincode event of one action, or nil.
func decodeAction(action *peer.TransactionAction) (*peer.ChaincodeEvent, error) {
	actionPayload := new(peer.ChaincodeActionPayload)
	if err := proto.Unmarshal(action.GetPayload(), actionPayload); err != nil {
		return nil, fmt.Errorf("chaincode action payload: %w", err)
	}

	responsePayload := new(peer.ProposalResponsePayload)
	if err := proto.Unmarshal(actionPayload.GetAction().GetProposalResponsePayload(), responsePayload); err != nil {
		return nil, fmt.Errorf("proposal response payload: %w", err)
	}

	chaincodeAction := new(peer.ChaincodeAction)
	if err := proto.Unmarshal(responsePayload.GetExtension(), chaincodeAction); err != nil {
		return nil, fmt.Errorf("chaincode action: %w", err)
	}

	if len(chaincodeAction.GetEvents()) == 0 {
		return nil, nil //nolint:nilnil // No event is not an error.
	}

	event := new(peer.ChaincodeEvent)
	if err := proto.Unmarshal(chaincodeAction.GetEvents(), event); err != nil {
		return nil, fmt.Errorf("chaincode event: %w", err)
	}

	return event, nil
}
