package image

import "context"

type contextKey string

const callInfoKey contextKey = "image_call_info"

// CallInfo identifies one provider call inside a batched request.
type CallInfo struct {
	BatchID  string
	Kind     Kind
	Provider string
	ModelID  string

	// Index 调用在批次中的位置，Count 该调用请求的图像数
	Index int
	Count int
	Calls int
}

// WithCallInfo 设置 CallInfo
func WithCallInfo(ctx context.Context, info CallInfo) context.Context {
	return context.WithValue(ctx, callInfoKey, info)
}

// CallInfoFrom 获取 CallInfo
func CallInfoFrom(ctx context.Context) (CallInfo, bool) {
	info, ok := ctx.Value(callInfoKey).(CallInfo)
	return info, ok
}
