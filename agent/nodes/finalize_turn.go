package dispatchnode

import (
	"fmt"
	"net/http"

	contractx "github.com/tanpawarit/Chative-Directory-Lookup-Bot/agent/contract"
)

func FinalizeTurn(in *GraphState) (GraphOutput, error) {
	if in == nil || in.Turn == nil {
		return GraphOutput{}, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	out := GraphOutput{
		Category: in.Category,
		Status:   in.Status,
		Result:   in.Result,
	}
	if in.Activity.Type == contractx.ActivityInvoke {
		out.Invoke = in.Turn.InvokeResponse()
		if out.Invoke == nil {
			out.Invoke = &contractx.InvokeResponse{Status: http.StatusOK}
		}
	}
	return out, nil
}
