package ledger

import (
	"bytes"
	"io"
	"time"

	"github.com/filecoin-project/go-address"
	cbg "github.com/whyrusleeping/cbor-gen"
	"golang.org/x/xerrors"

	"github.com/outlierventures/buyco_settlement/common"
)

const (
	cborFalse byte = 0xf4
	cborTrue  byte = 0xf5
	cborNull  byte = 0xf6

	simpleFalse = 20
	simpleTrue  = 21
	simpleNull  = 22

	maxStringLen = 1 << 16
)

// encodeParams encodes method arguments as a cbor tuple. No arguments encode
// to nil params.
func encodeParams(args ...interface{}) ([]byte, error) {
	if len(args) == 0 {
		return nil, nil
	}

	buf := new(bytes.Buffer)
	if err := cbg.WriteMajorTypeHeader(buf, cbg.MajArray, uint64(len(args))); err != nil {
		return nil, err
	}
	for i, arg := range args {
		if err := encodeValue(buf, arg); err != nil {
			return nil, xerrors.Errorf("param %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

func encodeValue(w io.Writer, v interface{}) error {
	switch v := v.(type) {
	case uint64:
		return cbg.WriteMajorTypeHeader(w, cbg.MajUnsignedInt, v)
	case int64:
		if v >= 0 {
			return cbg.WriteMajorTypeHeader(w, cbg.MajUnsignedInt, uint64(v))
		}
		return cbg.WriteMajorTypeHeader(w, cbg.MajNegativeInt, uint64(-v-1))
	case bool:
		b := cborFalse
		if v {
			b = cborTrue
		}
		_, err := w.Write([]byte{b})
		return err
	case string:
		if err := cbg.WriteMajorTypeHeader(w, cbg.MajTextString, uint64(len(v))); err != nil {
			return err
		}
		_, err := io.WriteString(w, v)
		return err
	case address.Address:
		if v == address.Undef {
			_, err := w.Write([]byte{cborNull})
			return err
		}
		return v.MarshalCBOR(w)
	case common.Phase:
		return cbg.WriteMajorTypeHeader(w, cbg.MajUnsignedInt, uint64(v))
	case time.Time:
		return encodeValue(w, v.Unix())
	}
	return xerrors.Errorf("unsupported param type %T", v)
}

type decoder struct {
	r *bytes.Reader
}

func newDecoder(b []byte) *decoder {
	return &decoder{r: bytes.NewReader(b)}
}

func (d *decoder) header() (byte, uint64, error) {
	return cbg.CborReadHeader(d.r)
}

func (d *decoder) readArray() (uint64, error) {
	maj, n, err := d.header()
	if err != nil {
		return 0, err
	}
	if maj != cbg.MajArray {
		return 0, xerrors.Errorf("expected array, got major type %d", maj)
	}
	return n, nil
}

func (d *decoder) readUint() (uint64, error) {
	maj, n, err := d.header()
	if err != nil {
		return 0, err
	}
	if maj != cbg.MajUnsignedInt {
		return 0, xerrors.Errorf("expected unsigned int, got major type %d", maj)
	}
	return n, nil
}

func (d *decoder) readInt() (int64, error) {
	maj, n, err := d.header()
	if err != nil {
		return 0, err
	}
	switch maj {
	case cbg.MajUnsignedInt:
		if n > 1<<63-1 {
			return 0, xerrors.Errorf("int64 overflow: %d", n)
		}
		return int64(n), nil
	case cbg.MajNegativeInt:
		if n > 1<<63-1 {
			return 0, xerrors.Errorf("int64 overflow: -%d", n)
		}
		return -1 - int64(n), nil
	}
	return 0, xerrors.Errorf("expected int, got major type %d", maj)
}

func (d *decoder) readBool() (bool, error) {
	maj, n, err := d.header()
	if err != nil {
		return false, err
	}
	if maj != cbg.MajOther {
		return false, xerrors.Errorf("expected bool, got major type %d", maj)
	}
	switch n {
	case simpleFalse:
		return false, nil
	case simpleTrue:
		return true, nil
	}
	return false, xerrors.Errorf("expected bool, got simple value %d", n)
}

// readString decodes a text string; null decodes to "".
func (d *decoder) readString() (string, error) {
	maj, n, err := d.header()
	if err != nil {
		return "", err
	}
	if maj == cbg.MajOther && n == simpleNull {
		return "", nil
	}
	if maj != cbg.MajTextString {
		return "", xerrors.Errorf("expected text string, got major type %d", maj)
	}
	if n > maxStringLen {
		return "", xerrors.Errorf("string too long: %d", n)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(d.r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

// readAddress decodes an address; null or an empty byte string decode to Undef.
func (d *decoder) readAddress() (address.Address, error) {
	maj, n, err := d.header()
	if err != nil {
		return address.Undef, err
	}
	if maj == cbg.MajOther && n == simpleNull {
		return address.Undef, nil
	}
	if maj != cbg.MajByteString {
		return address.Undef, xerrors.Errorf("expected byte string, got major type %d", maj)
	}
	if n == 0 {
		return address.Undef, nil
	}
	if n > maxStringLen {
		return address.Undef, xerrors.Errorf("address too long: %d", n)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(d.r, b); err != nil {
		return address.Undef, err
	}
	return address.NewFromBytes(b)
}

func (d *decoder) readPhasePayment() (common.PhasePayment, error) {
	txID, err := d.readString()
	if err != nil {
		return common.PhasePayment{}, xerrors.Errorf("tx id: %w", err)
	}
	amount, err := d.readInt()
	if err != nil {
		return common.PhasePayment{}, xerrors.Errorf("amount: %w", err)
	}
	return common.PhasePayment{TxID: txID, Amount: amount}, nil
}

// readBacking decodes the backer tuple
// [address, quantity, pledgeTx, pledgeAmount, startTx, startAmount, endTx, endAmount, reported, correct].
// The two delivery flags are absent on actors deployed before delivery reporting.
func (d *decoder) readBacking(index uint64) (*common.Backing, error) {
	n, err := d.readArray()
	if err != nil {
		return nil, err
	}
	if n < 8 {
		return nil, xerrors.Errorf("invalid backer: expected at least 8 items, got %d", n)
	}

	b := &common.Backing{Index: index}
	if b.Address, err = d.readAddress(); err != nil {
		return nil, xerrors.Errorf("parse address: %w", err)
	}
	if b.Quantity, err = d.readUint(); err != nil {
		return nil, xerrors.Errorf("parse quantity: %w", err)
	}
	if b.Pledge, err = d.readPhasePayment(); err != nil {
		return nil, xerrors.Errorf("parse pledge: %w", err)
	}
	if b.Start, err = d.readPhasePayment(); err != nil {
		return nil, xerrors.Errorf("parse start: %w", err)
	}
	if b.End, err = d.readPhasePayment(); err != nil {
		return nil, xerrors.Errorf("parse end: %w", err)
	}
	if n >= 10 {
		if b.DeliveryReported, err = d.readBool(); err != nil {
			return nil, xerrors.Errorf("parse delivery reported: %w", err)
		}
		if b.DeliveryCorrect, err = d.readBool(); err != nil {
			return nil, xerrors.Errorf("parse delivery correct: %w", err)
		}
	}
	return b, nil
}

// EncodeValue encodes a single return value. Exposed for fakes that serve
// actor calls.
func EncodeValue(v interface{}) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := encodeValue(buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeTuple encodes values as one cbor array.
func EncodeTuple(vs ...interface{}) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := cbg.WriteMajorTypeHeader(buf, cbg.MajArray, uint64(len(vs))); err != nil {
		return nil, err
	}
	for _, v := range vs {
		if err := encodeValue(buf, v); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
