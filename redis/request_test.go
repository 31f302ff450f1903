package redis_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	. "github.com/joomcode/redisguard/redis"
)

func TestRequestKey(t *testing.T) {
	var k string
	var ok bool

	k, ok = Req("GET", 1).Key()
	assert.Equal(t, "1", k)
	assert.True(t, ok)

	_, ok = Req("GET").Key()
	assert.False(t, ok)

	k, ok = Req("SET", 1, 2).Key()
	assert.Equal(t, "1", k)
	assert.True(t, ok)

	k, ok = Req("RANDOMKEY").Key()
	assert.Equal(t, "RANDOMKEY", k)
	assert.False(t, ok)

	k, ok = Req("EVAL", "return 1", 1, "key").Key()
	assert.Equal(t, "key", k)
	assert.True(t, ok)

	_, ok = Req("EVALSHA", "sha", 0).Key()
	assert.False(t, ok)

	k, ok = Req("BITOP", "AND", 1, 2).Key()
	assert.Equal(t, "1", k)
	assert.True(t, ok)
}

func TestArgToString(t *testing.T) {
	cases := []struct {
		arg interface{}
		exp string
		ok  bool
	}{
		{int(0), "0", true},
		{uint(1), "1", true},
		{int8(-31), "-31", true},
		{uint8(156), "156", true},
		{int16(-3906), "-3906", true},
		{uint16(19351), "19351", true},
		{int32(-488281), "-488281", true},
		{uint32(2441406), "2441406", true},
		{int64(-9223372036854775808), "-9223372036854775808", true},
		{uint64(18446744073709551615), "18446744073709551615", true},
		{float32(-10000.25), "-10000.25", true},
		{float64(0.25), "0.25", true},
		{true, "1", true},
		{false, "0", true},
		{nil, "", true},
		{"asdf", "asdf", true},
		{[]byte("asdf"), "asdf", true},
		{make(chan int), "", false},
	}
	for _, c := range cases {
		k, ok := ArgToString(c.arg)
		assert.Equal(t, c.exp, k, "%#v", c.arg)
		assert.Equal(t, c.ok, ok, "%#v", c.arg)
	}
}

func TestAppendRequestArgument(t *testing.T) {
	cases := []struct {
		arg interface{}
		exp string
	}{
		{int(0), "$1\r\n0\r\n"},
		{int8(-31), "$3\r\n-31\r\n"},
		{int64(12207031), "$8\r\n12207031\r\n"},
		{int64(9223372036854775807), "$19\r\n9223372036854775807\r\n"},
		{int64(-9223372036854775808), "$20\r\n-9223372036854775808\r\n"},
		{uint64(18446744073709551615), "$20\r\n18446744073709551615\r\n"},
		{float32(-10000.25), "$9\r\n-10000.25\r\n"},
		{float64(0.25), "$4\r\n0.25\r\n"},
		{true, "$1\r\n1\r\n"},
		{false, "$1\r\n0\r\n"},
		{nil, "$0\r\n\r\n"},
		{"asdf", "$4\r\nasdf\r\n"},
		{[]byte("asdf"), "$4\r\nasdf\r\n"},
	}
	for _, c := range cases {
		k, err := AppendRequest(nil, Req("CMD", c.arg))
		assert.Nil(t, err)
		assert.Equal(t, "*2\r\n$3\r\nCMD\r\n"+c.exp, string(k), "%#v", c.arg)
	}

	buf := []byte("prefix")
	k, err := AppendRequest(buf, Req("CMD", make(chan int)))
	assert.Equal(t, []byte("prefix"), k)
	if assert.NotNil(t, err) {
		assert.True(t, err.IsOfType(ErrArgumentType))
		pos, _ := err.Property(EKArgPos)
		assert.Equal(t, 0, pos)
	}
}

func TestAppendRequestSpaceInCommand(t *testing.T) {
	k, err := AppendRequest(nil, Req("CLUSTER SLOTS"))
	assert.Nil(t, err)
	assert.Equal(t, "*2\r\n$7\r\nCLUSTER\r\n$5\r\nSLOTS\r\n", string(k))

	k, err = AppendRequest(nil, Req("SENTINEL GET-MASTER-ADDR-BY-NAME", "mymaster"))
	assert.Nil(t, err)
	assert.Equal(t, "*3\r\n$8\r\nSENTINEL\r\n$23\r\nGET-MASTER-ADDR-BY-NAME\r\n$8\r\nmymaster\r\n", string(k))
}

func TestRequestString(t *testing.T) {
	assert.Equal(t, `Req("GET", k)`, Req("GET", "k").String())
	assert.Equal(t, `Req("MGET", 1 2 3 4 5 ...)`, Req("MGET", 1, 2, 3, 4, 5, 6).String())
}
