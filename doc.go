// Package vidstream implements the video media stream of a SIP user agent:
// capture, encode and RTP framing on the transmit side, reassembly, decode
// and display on the receive side, tied together by a per-call Session.
//
// Key pieces include:
//   - Session: the per-call video object owning both directions
//   - Codec descriptors, encoder/decoder plugins and the Registry
//   - RTP framing for H.264 (RFC 6184), H.263 (RFC 2190) and MPEG-4 Visual
//   - Source/Display device drivers and a Filter chain
//   - Transports over UDP and pion/webrtc tracks
//
// # Architecture
//
//	Transmit: Source -> convert -> filters -> VideoEncoder -> Packetizer -> Transport
//	Receive:  Transport -> Depacketizer -> VideoDecoder -> filters -> Display
//	Feedback: RTCP FIR/PLI -> Session.HandleRTCP -> keyframe request
//
// # Native Libraries
//
// The H.264 codec and the V4L2 capture driver load libmedia_h264 and
// libstream_v4l2 through purego (CGO_ENABLED=0). Set MEDIA_SDK_LIB_PATH or
// STREAM_SDK_LIB_PATH to the directory containing them. When a library is
// missing the corresponding plugin is simply not registered.
//
// # Build Tags
//
//   - noh264: disable the native H.264 codec
//   - nodevices: disable V4L2 capture
package vidstream
