package ble

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManufacturerData_Encode(t *testing.T) {
	md := ManufacturerData{CompanyID: DefaultCompanyID, Data: DefaultPayload}
	raw, err := md.Encode()
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFE, 0xFF, 0x12, 0x34}, raw)

	back, err := DecodeManufacturerData(raw)
	require.NoError(t, err)
	assert.Equal(t, md, back)
	assert.Equal(t, "0xFFFE: 12-34", back.String())
}

func TestManufacturerData_Limits(t *testing.T) {
	_, err := ManufacturerData{CompanyID: 1, Data: make([]byte, MaxPayloadLen+1)}.Encode()
	assert.ErrorIs(t, err, ErrPayloadTooLarge)

	_, err = ManufacturerData{CompanyID: 1, Data: make([]byte, MaxPayloadLen)}.Encode()
	assert.NoError(t, err)

	_, err = DecodeManufacturerData([]byte{0x4C})
	assert.ErrorIs(t, err, ErrShortData)

	assert.Equal(t, "0x004C: ", ManufacturerData{CompanyID: 0x004C}.String())
}

func TestParsePayload(t *testing.T) {
	tests := []struct {
		in   string
		want []byte
	}{
		{"1234", []byte{0x12, 0x34}},
		{"0x1234", []byte{0x12, 0x34}},
		{"12-34-ab", []byte{0x12, 0x34, 0xAB}},
		{"de:ad be:ef", []byte{0xDE, 0xAD, 0xBE, 0xEF}},
		{"", []byte{}},
	}
	for _, tt := range tests {
		got, err := ParsePayload(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParsePayload("123")
	assert.Error(t, err)
	_, err = ParsePayload("zz")
	assert.Error(t, err)
	_, err = ParsePayload(DashedHex(make([]byte, 28)))
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestParseAdvertisingData(t *testing.T) {
	raw := []byte{
		0x02, ADFlags, 0x06,
		0x05, ADManufacturerData, 0xFE, 0xFF, 0x12, 0x34,
		0x04, ADShortLocalName, 'd', 'a', 'v',
		0x05, ADCompleteName, 'd', 'a', 'v', 'i',
		0x03, ADManufacturerData, 0x4C, 0x00,
		0x00, 0x00,
	}
	ads, err := ParseAdvertisingData(raw)
	require.NoError(t, err)
	require.Len(t, ads, 5)

	mds := ManufacturerDataFromAD(ads)
	require.Len(t, mds, 2)
	assert.Equal(t, "0xFFFE: 12-34", mds[0].String())
	assert.Equal(t, uint16(0x004C), mds[1].CompanyID)
	assert.Equal(t, "davi", LocalNameFromAD(ads))

	_, err = ParseAdvertisingData([]byte{0x05, ADManufacturerData, 0xFE})
	assert.Error(t, err)
}

func quietScanner(adapter Adapter) *Scanner {
	s := NewScanner(adapter)
	s.Logger = log.New(io.Discard, "", 0)
	return s
}

func TestScanner_FiltersAndReports(t *testing.T) {
	now := time.Now()
	ours := ManufacturerData{CompanyID: DefaultCompanyID, Data: []byte{0x12, 0x34}}
	adapter := NewMockAdapter(
		Advertisement{Address: "AA:BB:CC:DD:EE:01", RSSI: -60, LocalName: "davi", Manufacturer: []ManufacturerData{ours}, At: now},
		Advertisement{Address: "AA:BB:CC:DD:EE:02", RSSI: -50, Manufacturer: []ManufacturerData{{CompanyID: 0x004C, Data: []byte{1}}}, At: now},
		Advertisement{Address: "AA:BB:CC:DD:EE:03", RSSI: -95, Manufacturer: []ManufacturerData{ours}, At: now},
		// repeat inside the window
		Advertisement{Address: "AA:BB:CC:DD:EE:01", RSSI: -61, LocalName: "davi", Manufacturer: []ManufacturerData{ours}, At: now.Add(time.Second)},
		Advertisement{Address: "AA:BB:CC:DD:EE:01", RSSI: -62, LocalName: "davi", Manufacturer: []ManufacturerData{ours}, At: now.Add(3 * time.Second)},
	)
	s := quietScanner(adapter)
	s.MinRSSI = -80

	ctx, cancel := context.WithCancel(context.Background())
	var got []Beacon
	errc := make(chan error, 1)
	go func() {
		errc <- s.Scan(ctx, func(b Beacon) {
			got = append(got, b)
			if len(got) == 2 {
				cancel()
			}
		})
	}()

	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scan did not stop")
	}
	require.Len(t, got, 2)
	assert.Equal(t, "Beacon AA:BB:CC:DD:EE:01 rssi=-60 name=davi manufacturerData=[0xFFFE: 12-34]", got[0].String())
	assert.Equal(t, int16(-62), got[1].RSSI)
}

func TestScanner_Timeout(t *testing.T) {
	s := quietScanner(NewMockAdapter())
	s.Timeout = 20 * time.Millisecond
	start := time.Now()
	require.NoError(t, s.Scan(context.Background(), func(Beacon) {}))
	assert.Less(t, time.Since(start), time.Second)
}

func TestScanner_AdapterUnavailable(t *testing.T) {
	adapter := NewMockAdapter()
	adapter.EnableError = errors.New("no hci0")
	err := quietScanner(adapter).Scan(context.Background(), func(Beacon) {})
	assert.ErrorIs(t, err, ErrAdapterUnavailable)
}

func TestScanner_ScanError(t *testing.T) {
	adapter := NewMockAdapter()
	adapter.ScanError = errors.New("busy")
	err := quietScanner(adapter).Scan(context.Background(), func(Beacon) {})
	assert.EqualError(t, err, "scan: busy")
}

func TestPublisher_Lifecycle(t *testing.T) {
	adapter := NewMockAdapter()
	p := NewPublisher(adapter)
	p.Logger = log.New(io.Discard, "", 0)

	opts := AdvertiseOptions{LocalName: "davi", Manufacturer: ManufacturerData{CompanyID: DefaultCompanyID, Data: DefaultPayload}}
	require.NoError(t, p.Start(opts))
	assert.True(t, p.Running())
	assert.ErrorIs(t, p.Start(opts), ErrPublisherRunning)

	current, ok := p.Current()
	assert.True(t, ok)
	assert.Equal(t, "0xFFFE: 12-34", current.String())

	advs := adapter.Advertised()
	require.Len(t, advs, 1)
	assert.Equal(t, opts, advs[0].Options)

	require.NoError(t, p.Stop())
	assert.False(t, p.Running())
	started, stopped := advs[0].State()
	assert.True(t, started)
	assert.True(t, stopped)

	require.NoError(t, p.Stop())
}

func TestPublisher_Errors(t *testing.T) {
	adapter := NewMockAdapter()
	p := NewPublisher(adapter)
	p.Logger = log.New(io.Discard, "", 0)

	err := p.Start(AdvertiseOptions{Manufacturer: ManufacturerData{Data: make([]byte, 30)}})
	assert.ErrorIs(t, err, ErrPayloadTooLarge)

	adapter.EnableError = errors.New("powered off")
	err = p.Start(AdvertiseOptions{Manufacturer: ManufacturerData{CompanyID: 1}})
	assert.ErrorIs(t, err, ErrAdapterUnavailable)
	assert.False(t, p.Running())
}

func TestScanner_StopBeforeScanStarts(t *testing.T) {
	adapter := NewMockAdapter()
	adapter.ScanDelay = 50 * time.Millisecond
	s := quietScanner(adapter)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	errc := make(chan error, 1)
	go func() { errc <- s.Scan(ctx, func(Beacon) {}) }()

	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scan still running after the context was cancelled")
	}
	assert.GreaterOrEqual(t, adapter.StopErrors(), 1, "stop should have raced the scan start")
}

func TestScanner_ShortTimeoutBeforeScanStarts(t *testing.T) {
	adapter := NewMockAdapter()
	adapter.ScanDelay = 40 * time.Millisecond
	s := quietScanner(adapter)
	s.Timeout = time.Millisecond

	start := time.Now()
	require.NoError(t, s.Scan(context.Background(), func(Beacon) {}))
	assert.Less(t, time.Since(start), time.Second)
}

func TestPayloadBudget(t *testing.T) {
	assert.Equal(t, MaxPayloadLen, PayloadBudget(""))
	assert.Equal(t, MaxPayloadLen-6, PayloadBudget("davi"))
	assert.Equal(t, 0, PayloadBudget("a-name-far-too-long-for-one-advertisement"))

	require.NoError(t, CheckPayload(make([]byte, MaxPayloadLen), ""))
	require.NoError(t, CheckPayload(make([]byte, MaxPayloadLen-6), "davi"))

	err := CheckPayload(make([]byte, MaxPayloadLen-5), "davi")
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
	assert.EqualError(t, err, `manufacturer payload exceeds 27 bytes: local name "davi" leaves room for 21 bytes, got 22`)
}

func TestPublisher_PayloadWithLocalName(t *testing.T) {
	adapter := NewMockAdapter()
	p := NewPublisher(adapter)
	p.Logger = log.New(io.Discard, "", 0)

	err := p.Start(AdvertiseOptions{LocalName: "davi", Manufacturer: ManufacturerData{CompanyID: 1, Data: make([]byte, MaxPayloadLen)}})
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
	assert.Empty(t, adapter.Advertised())
	assert.False(t, p.Running())
}
