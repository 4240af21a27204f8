package socketprep

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseBindSpec(t *testing.T) {
	cases := []struct {
		raw     string
		want    BindSpec
		wantErr bool
	}{
		{
			raw:  "127.0.0.1:8080",
			want: BindSpec{Raw: "127.0.0.1:8080", Host: "127.0.0.1", Port: "8080"},
		},
		{
			raw:  "127.0.0.1:8080,r",
			want: BindSpec{Raw: "127.0.0.1:8080,r", Host: "127.0.0.1", Port: "8080", ReuseAddr: true},
		},
		{
			raw:  "0.0.0.0:9090,n",
			want: BindSpec{Raw: "0.0.0.0:9090,n", Host: "0.0.0.0", Port: "9090", NonBlocking: true},
		},
		{
			raw:  ":18080,r,n",
			want: BindSpec{Raw: ":18080,r,n", Host: "", Port: "18080", ReuseAddr: true, NonBlocking: true},
		},
		{
			raw:     "nohost",
			wantErr: true,
		},
		{
			raw:     "127.0.0.1:8080,x",
			wantErr: true,
		},
	}

	for _, tc := range cases {
		got, err := ParseBindSpec(tc.raw)
		if tc.wantErr {
			assert.Error(t, err, "ParseBindSpec(%q)", tc.raw)
			continue
		}
		assert.NoError(t, err, "ParseBindSpec(%q)", tc.raw)
		assert.Equal(t, tc.want, got, "ParseBindSpec(%q)", tc.raw)
	}
}

func TestFamilyNetwork(t *testing.T) {
	cases := map[Family]string{
		FamilyAny:    "tcp",
		FamilyV4Only: "tcp4",
		FamilyV6Only: "tcp6",
	}
	for f, want := range cases {
		assert.Equal(t, want, f.network())
	}
}
