package tool

import (
	"context"

	einotool "github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

const (
	ToolSendMessage       = "send_message"
	ToolRecordState       = "record_state"
	ToolFinishNegotiation = "finish_negotiation"
)

// invokable adapts one toolset operation to eino's InvokableTool.
type invokable struct {
	info *schema.ToolInfo
	run  func(ctx context.Context, args string) string
}

var _ einotool.InvokableTool = (*invokable)(nil)

func (t *invokable) Info(context.Context) (*schema.ToolInfo, error) {
	return t.info, nil
}

// InvokableRun never returns an error: the runtime always gets a textual
// result it can read and react to.
func (t *invokable) InvokableRun(ctx context.Context, args string, _ ...einotool.Option) (string, error) {
	return t.run(ctx, args), nil
}

// Tools returns the three negotiation tools bound to this toolset.
func (ts *Toolset) Tools() []einotool.InvokableTool {
	return []einotool.InvokableTool{
		&invokable{info: sendMessageInfo, run: ts.runSendMessage},
		&invokable{info: recordStateInfo, run: ts.runRecordState},
		&invokable{info: finishNegotiationInfo, run: ts.runFinishNegotiation},
	}
}

func Infos() []*schema.ToolInfo {
	return []*schema.ToolInfo{sendMessageInfo, recordStateInfo, finishNegotiationInfo}
}

var (
	sendMessageInfo = &schema.ToolInfo{
		Name: ToolSendMessage,
		Desc: "Send an email to the vendor and wait for the vendor's reply. Returns the reply text.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"body": {Type: schema.String, Desc: "Email body to send to the vendor", Required: true},
		}),
	}

	recordStateInfo = &schema.ToolInfo{
		Name: ToolRecordState,
		Desc: "Record the vendor's current offer. Must be followed by a send_message call.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"price":       {Type: schema.Number, Desc: "Offered total price in the vendor's currency", Required: true},
			"description": {Type: schema.String, Desc: "Short description of the offer terms", Required: true},
		}),
	}

	finishNegotiationInfo = &schema.ToolInfo{
		Name: ToolFinishNegotiation,
		Desc: "Submit the final offer(s) of this negotiation. Call once, when the negotiation is over.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"offers": {
				Type:     schema.Array,
				Desc:     "Final offers, best first",
				Required: true,
				ElemInfo: &schema.ParameterInfo{
					Type: schema.Object,
					SubParams: map[string]*schema.ParameterInfo{
						"description": {Type: schema.String, Desc: "Offer summary", Required: true},
						"price":       {Type: schema.Number, Desc: "Final total price", Required: true},
						"pros": {
							Type:     schema.Array,
							Desc:     "Up to 3 short advantages",
							ElemInfo: &schema.ParameterInfo{Type: schema.String},
						},
						"cons": {
							Type:     schema.Array,
							Desc:     "Up to 3 short drawbacks",
							ElemInfo: &schema.ParameterInfo{Type: schema.String},
						},
					},
				},
			},
		}),
	}
)
