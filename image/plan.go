package image

// resolveMaxImagesPerCall 取请求覆盖值，否则取模型声明值；未声明时为 1
func resolveMaxImagesPerCall(override int, model Model) int {
	if override != 0 {
		return override
	}
	if model != nil {
		if m := model.MaxImagesPerCall(); m != 0 {
			return m
		}
	}
	return 1
}

// PlanCalls splits n images into per-call counts of at most maxPerCall.
//
// The call count is ceil(n / maxPerCall). Every call but the last asks for
// maxPerCall images; the last asks for n mod maxPerCall, or a full batch when the
// remainder is zero. maxPerCall == 0 is treated as 1 and a negative value
// (Unbounded) puts all n images in a single call. n <= 0 plans no calls.
func PlanCalls(n, maxPerCall int) []int {
	if n <= 0 {
		return nil
	}
	if maxPerCall < 0 {
		return []int{n}
	}
	if maxPerCall == 0 {
		maxPerCall = 1
	}

	callCount := (n + maxPerCall - 1) / maxPerCall
	counts := make([]int, callCount)
	for i := range counts {
		counts[i] = maxPerCall
	}
	if rem := n % maxPerCall; rem != 0 {
		counts[callCount-1] = rem
	}
	return counts
}
