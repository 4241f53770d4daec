package vidstream

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseFmtp splits "key=value;key2=value2" format parameters. Keys are
// lower-cased; parameters without a value map to "".
func ParseFmtp(fmtp string) map[string]string {
	params := make(map[string]string)
	for _, p := range fmtpParams(fmtp) {
		params[p.key] = p.value
	}
	return params
}

type fmtpParam struct{ key, value string }

// fmtpParams returns the parameters in the order they appear.
func fmtpParams(fmtp string) []fmtpParam {
	var params []fmtpParam
	for _, p := range strings.Split(fmtp, ";") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		k, v, _ := strings.Cut(p, "=")
		params = append(params, fmtpParam{strings.ToLower(strings.TrimSpace(k)), strings.TrimSpace(v)})
	}
	return params
}

// H264Fmtp holds the H.264 format parameters used here (RFC 6184).
type H264Fmtp struct {
	PacketizationMode int
	ProfileIDC        uint8
	ProfileIOP        uint8
	LevelIDC          uint8
	MaxFS             int // macroblocks
	MaxSMBPS          int // macroblocks per second
}

// ParseH264Fmtp decodes H.264 format parameters.
func ParseH264Fmtp(fmtp string) (H264Fmtp, error) {
	var f H264Fmtp
	for k, v := range ParseFmtp(fmtp) {
		var err error
		switch k {
		case "packetization-mode":
			f.PacketizationMode, err = strconv.Atoi(v)
		case "profile-level-id":
			var id uint64
			if len(v) != 6 {
				err = fmt.Errorf("length %d", len(v))
				break
			}
			id, err = strconv.ParseUint(v, 16, 32)
			f.ProfileIDC, f.ProfileIOP, f.LevelIDC = uint8(id>>16), uint8(id>>8), uint8(id)
		case "max-fs":
			f.MaxFS, err = strconv.Atoi(v)
		case "max-smbps":
			f.MaxSMBPS, err = strconv.Atoi(v)
		}
		if err != nil {
			return f, fmt.Errorf("%w: h264 fmtp %s=%q: %v", ErrConfiguration, k, v, err)
		}
	}
	return f, nil
}

func h264FmtpCompare(local, remote string) bool {
	l, err := ParseH264Fmtp(local)
	if err != nil {
		return false
	}
	r, err := ParseH264Fmtp(remote)
	if err != nil {
		return false
	}
	return l.PacketizationMode == r.PacketizationMode
}

// H263PictureFormat is a picture size offered in H.263 format parameters
// with its minimum picture interval (frame rate 30000/1001/MPI).
type H263PictureFormat struct {
	Name string
	Size Size
	MPI  int
}

var h263Sizes = map[string]Size{
	"sqcif": {128, 96},
	"qcif":  {176, 144},
	"cif":   {352, 288},
	"cif4":  {704, 576},
	"cif16": {1408, 1152},
}

// ParseH263Fmtp decodes the picture formats of H.263 format parameters
// (RFC 4629), e.g. "CIF=1;QCIF=2", in order of preference.
func ParseH263Fmtp(fmtp string) ([]H263PictureFormat, error) {
	var formats []H263PictureFormat
	for _, p := range fmtpParams(fmtp) {
		size, ok := h263Sizes[p.key]
		if !ok {
			continue
		}
		mpi, err := strconv.Atoi(p.value)
		if err != nil || mpi < 1 || mpi > 32 {
			return nil, fmt.Errorf("%w: h263 fmtp %s=%q: MPI must be 1-32", ErrConfiguration, p.key, p.value)
		}
		formats = append(formats, H263PictureFormat{Name: strings.ToUpper(p.key), Size: size, MPI: mpi})
	}
	return formats, nil
}

// h263FmtpCompare accepts an empty parameter list or one with valid
// picture formats.
func h263FmtpCompare(_, remote string) bool {
	_, err := ParseH263Fmtp(remote)
	return err == nil
}
