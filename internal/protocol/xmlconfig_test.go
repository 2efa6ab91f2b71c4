package protocol

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfigXML(t *testing.T) {
	tests := []struct {
		name string
		mode string
		doc  string
		want CellConfig
	}{
		{
			name: "gsm wideband lists",
			mode: ModeGSMWB,
			doc: `<?xml version="1.0" encoding="utf-8"?><cfg>
				<item><mcc>510</mcc><mnc>1</mnc><arfcnList><arfcn>45</arfcn></arfcnList></item>
				<item><mcc>510</mcc><mnc>10</mnc><arfcnList><arfcn>60</arfcn></arfcnList></item>
			</cfg>`,
			want: CellConfig{MCC: "510,510", MNC: "01,10", ARFCN: "45,60", Band: "0"},
		},
		{
			name: "gsm single",
			mode: ModeGSM,
			doc:  `<cfg><cell><mcc> 510 </mcc><mnc>11</mnc><arfcn>70</arfcn></cell></cfg>`,
			want: CellConfig{MCC: "510", MNC: "11", ARFCN: "70", Band: "0"},
		},
		{
			name: "wcdma sib",
			mode: ModeWCDMA,
			doc:  `<cfg><sib><mcc>5 1 0</mcc><mnc>1</mnc></sib><urfcn>10788</urfcn></cfg>`,
			want: CellConfig{MCC: "510", MNC: "01", ARFCN: "10788", Band: "0"},
		},
		{
			name: "lte prefers erfcn",
			mode: "LTE",
			doc:  `<cfg><mcc>510</mcc><mnc>1</mnc><band>3</band><arfcn>1</arfcn><erfcn>1850</erfcn></cfg>`,
			want: CellConfig{MCC: "510", MNC: "01", ARFCN: "1850", Band: "3"},
		},
		{
			name: "lte falls back to urfcn",
			mode: "",
			doc:  `<cfg><mcc>510</mcc><mnc>89</mnc><band>40</band><urfcn>38950</urfcn></cfg>`,
			want: CellConfig{MCC: "510", MNC: "89", ARFCN: "38950", Band: "40"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseConfigXML(tt.mode, tt.doc)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseConfigXMLErrors(t *testing.T) {
	_, err := ParseConfigXML("LTE", "")
	assert.True(t, errors.Is(err, ErrNoXML))

	_, err = ParseConfigXML("LTE", "<cfg><mcc>510</mcc></cfg>")
	assert.True(t, errors.Is(err, ErrFieldMissing))

	_, err = ParseConfigXML("LTE", "<cfg><mcc>")
	assert.Error(t, err)
}

func TestParseSniffXML(t *testing.T) {
	doc := `<?xml version="1.0" encoding="utf-8"?><nmm>
		<item><arfcn>1850</arfcn><pci>101</pci><rsrp>-85</rsrp><band>3</band></item>
		<item><arfcn>bad</arfcn></item>
		<item><arfcn>38950</arfcn><pci>7</pci></item>
	</nmm>`

	entries, err := ParseSniffXML(doc)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, SniffEntry{ARFCN: 1850, PCI: "101", RSRP: "-85", Band: 3}, entries[0])
	assert.Equal(t, 38950, entries[1].ARFCN)
	assert.Equal(t, 0, entries[1].Band)
}
