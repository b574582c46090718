package simulation

import (
	"context"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"reflect"
	"strings"
	"sync"
	"time"

	"cosmossdk.io/log"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethmetrics "github.com/ethereum/go-ethereum/metrics"
	"github.com/tidwall/gjson"

	"github.com/iosh/dryrun/types"
)

// DefaultAbiLookupURL is the public contract-verification endpoint queried on
// registry misses.
const DefaultAbiLookupURL = "https://sourcify.dev/server/v2/contract"

var (
	abiHitMeter      = gethmetrics.NewRegisteredMeter("dryrun/abi/hit", nil)
	abiMissMeter     = gethmetrics.NewRegisteredMeter("dryrun/abi/miss", nil)
	abiNegativeMeter = gethmetrics.NewRegisteredMeter("dryrun/abi/negative", nil)
)

type abiKey struct {
	addr    common.Address
	chainID uint64
}

// AbiRegistry is a process-wide cache of contract decoders keyed by
// (address, chain id). Lookups are best effort: any transport or parse
// failure is cached as a negative entry and decoding is skipped for that
// contract from then on.
//
// Reads take the shared lock; a miss releases it, fetches without holding any
// lock, and inserts under the write lock. Concurrent misses for the same key
// may fetch twice; the result is idempotent so the last writer wins.
type AbiRegistry struct {
	mu       sync.RWMutex
	decoders map[abiKey]*AbiDecoder

	client    *http.Client
	lookupURL string
	logger    log.Logger
}

// NewAbiRegistry creates a registry fetching from the given lookup endpoint.
// An empty URL selects the default public endpoint.
func NewAbiRegistry(lookupURL string, logger log.Logger) *AbiRegistry {
	if lookupURL == "" {
		lookupURL = DefaultAbiLookupURL
	}
	return &AbiRegistry{
		decoders:  make(map[abiKey]*AbiDecoder),
		client:    &http.Client{Timeout: 10 * time.Second},
		lookupURL: strings.TrimRight(lookupURL, "/"),
		logger:    logger.With("module", "abi"),
	}
}

// Decoder returns the decoder for the contract, or nil when no ABI could be
// obtained. A nil result is cached and returned without refetching.
func (r *AbiRegistry) Decoder(ctx context.Context, addr common.Address, chainID uint64) *AbiDecoder {
	key := abiKey{addr: addr, chainID: chainID}

	r.mu.RLock()
	decoder, ok := r.decoders[key]
	r.mu.RUnlock()
	if ok {
		abiHitMeter.Mark(1)
		return decoder
	}
	abiMissMeter.Mark(1)

	decoder = r.fetch(ctx, addr, chainID)
	if decoder == nil {
		abiNegativeMeter.Mark(1)
	}

	r.mu.Lock()
	r.decoders[key] = decoder
	r.mu.Unlock()
	return decoder
}

func (r *AbiRegistry) fetch(ctx context.Context, addr common.Address, chainID uint64) *AbiDecoder {
	url := fmt.Sprintf("%s/%d/%s?fields=abi", r.lookupURL, chainID, addr.Hex())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		r.logger.Debug("failed to build abi lookup request", "address", addr.Hex(), "err", err)
		return nil
	}
	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Debug("abi lookup failed", "address", addr.Hex(), "err", err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		r.logger.Debug("abi lookup rejected", "address", addr.Hex(), "status", resp.StatusCode)
		return nil
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		r.logger.Debug("failed to read abi lookup response", "address", addr.Hex(), "err", err)
		return nil
	}
	raw := gjson.GetBytes(body, "abi")
	if !raw.Exists() {
		r.logger.Debug("abi lookup response has no abi field", "address", addr.Hex())
		return nil
	}
	decoder, err := NewAbiDecoder(raw.Raw)
	if err != nil {
		r.logger.Debug("failed to parse abi", "address", addr.Hex(), "err", err)
		return nil
	}
	return decoder
}

// AbiDecoder decodes function inputs and event logs against one contract ABI.
type AbiDecoder struct {
	abi    abi.ABI
	events map[common.Hash]abi.Event
}

// NewAbiDecoder parses a JSON ABI and indexes its events by signature topic.
func NewAbiDecoder(abiJSON string) (*AbiDecoder, error) {
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return nil, err
	}
	events := make(map[common.Hash]abi.Event, len(parsed.Events))
	for _, event := range parsed.Events {
		events[event.ID] = event
	}
	return &AbiDecoder{abi: parsed, events: events}, nil
}

// DecodeInput decodes calldata into the matching function name and formatted
// parameters. Returns false when the selector is unknown or the payload does
// not unpack.
func (d *AbiDecoder) DecodeInput(data []byte) (string, []types.CallTraceDecodedParam, bool) {
	if len(data) < 4 {
		return "", nil, false
	}
	method, err := d.abi.MethodById(data[:4])
	if err != nil {
		return "", nil, false
	}
	values, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return "", nil, false
	}
	params := make([]types.CallTraceDecodedParam, len(method.Inputs))
	for i, input := range method.Inputs {
		params[i] = types.CallTraceDecodedParam{
			Name:    input.Name,
			SolType: input.Type.String(),
			Value:   formatValue(values[i]),
		}
	}
	return method.Name, params, true
}

// DecodeLog decodes a raw log against the indexed events. Returns false when
// topic0 matches no event or the topics/data do not fit its inputs.
func (d *AbiDecoder) DecodeLog(raw *types.RawLog) (string, bool, []types.DecodeLogInput, bool) {
	if len(raw.Topics) == 0 {
		return "", false, nil, false
	}
	event, ok := d.events[raw.Topics[0]]
	if !ok {
		return "", false, nil, false
	}

	var indexed abi.Arguments
	for _, input := range event.Inputs {
		if input.Indexed {
			indexed = append(indexed, input)
		}
	}
	if len(raw.Topics)-1 != len(indexed) {
		return "", false, nil, false
	}
	topicValues := make(map[string]interface{}, len(indexed))
	if err := abi.ParseTopicsIntoMap(topicValues, indexed, raw.Topics[1:]); err != nil {
		return "", false, nil, false
	}
	dataValues, err := event.Inputs.NonIndexed().Unpack(raw.Data)
	if err != nil {
		return "", false, nil, false
	}

	inputs := make([]types.DecodeLogInput, 0, len(event.Inputs))
	next := 0
	for _, input := range event.Inputs {
		var value interface{}
		if input.Indexed {
			value = topicValues[input.Name]
		} else {
			value = dataValues[next]
			next++
		}
		inputs = append(inputs, types.DecodeLogInput{
			Name:    input.Name,
			SolType: input.Type.String(),
			Value:   formatValue(value),
			Indexed: input.Indexed,
		})
	}
	return event.Name, event.Anonymous, inputs, true
}

// formatValue renders a decoded ABI value as its canonical string form:
// addresses and byte strings as lowercase 0x-hex, integers as minimal 0x-hex
// quantities, arrays bracketed and tuples parenthesized.
func formatValue(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case common.Address:
		return "0x" + common.Bytes2Hex(v.Bytes())
	case common.Hash:
		return "0x" + common.Bytes2Hex(v.Bytes())
	case *big.Int:
		if v.Sign() < 0 {
			return "-0x" + new(big.Int).Neg(v).Text(16)
		}
		return "0x" + v.Text(16)
	case bool:
		if v {
			return "true"
		}
		return "false"
	case string:
		return v
	case []byte:
		return hexutil.Encode(v)
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "0x" + new(big.Int).SetUint64(rv.Uint()).Text(16)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return formatValue(big.NewInt(rv.Int()))
	case reflect.Array:
		// Fixed byte arrays render as hex, anything else as a list.
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			buf := make([]byte, rv.Len())
			reflect.Copy(reflect.ValueOf(buf), rv)
			return hexutil.Encode(buf)
		}
		return "[" + formatElements(rv) + "]"
	case reflect.Slice:
		return "[" + formatElements(rv) + "]"
	case reflect.Struct:
		// Tuples unpack into anonymous structs.
		elements := make([]string, rv.NumField())
		for i := range elements {
			elements[i] = formatValue(rv.Field(i).Interface())
		}
		return "(" + strings.Join(elements, ", ") + ")"
	default:
		return fmt.Sprintf("%v", value)
	}
}

func formatElements(rv reflect.Value) string {
	elements := make([]string, rv.Len())
	for i := range elements {
		elements[i] = formatValue(rv.Index(i).Interface())
	}
	return strings.Join(elements, ", ")
}
