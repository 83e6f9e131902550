package capability

import "github.com/opentalon/aspri/internal/provider"

var periodEnum = []string{"today", "this_week", "this_month"}

func str(name, desc string) provider.Param {
	return provider.Param{Name: name, Type: provider.ParamString, Description: desc}
}

func required(p provider.Param) provider.Param {
	p.Required = true
	return p
}

func enum(p provider.Param, values ...string) provider.Param {
	p.Enum = values
	return p
}

func num(name, desc string) provider.Param {
	return provider.Param{Name: name, Type: provider.ParamNumber, Description: desc}
}

func tags(desc string) provider.Param {
	return provider.Param{Name: "tags", Type: provider.ParamArray, Description: desc}
}

var coreTools = map[Module][]provider.Tool{
	ModuleFinance: {
		{
			Name:        "create_transaction",
			Description: "Record a new income or expense transaction.",
			Params: []provider.Param{
				required(enum(str("tx_type", "income or expense"), "income", "expense")),
				required(num("amount", "Amount in rupiah. 15rb = 15000, 1.5jt = 1500000.")),
				str("category", "Category name, e.g. Makan, Transport, Gaji"),
				str("note", "Short description of the transaction"),
				str("occurred_at", "Date as YYYY-MM-DD"),
			},
		},
		{
			Name:        "update_transaction",
			Description: "Change fields of an existing transaction. Identify it by id or by a description matching its note.",
			Params: []provider.Param{
				str("transaction_id", "Id of the transaction to change"),
				str("description", "Text matching the note of the transaction to change"),
				enum(str("tx_type", "New type"), "income", "expense"),
				num("amount", "New amount in rupiah"),
				str("category", "New category name"),
				str("note", "New note"),
				str("occurred_at", "New date as YYYY-MM-DD"),
			},
		},
		{
			Name:        "delete_transaction",
			Description: "Delete a transaction. Identify it by id or by a description matching its note.",
			Params: []provider.Param{
				str("transaction_id", "Id of the transaction to delete"),
				str("description", "Text matching the note of the transaction to delete"),
			},
		},
		{
			Name:        "view_transactions",
			Description: "List recent transactions.",
			Params: []provider.Param{
				enum(str("period", "Time window"), periodEnum...),
				enum(str("tx_type", "Only income or only expense"), "income", "expense"),
				{Name: "limit", Type: provider.ParamInteger, Description: "Maximum number of rows"},
			},
		},
		{
			Name:        "view_balance",
			Description: "Show income, expense and balance summary.",
			Params: []provider.Param{
				enum(str("period", "Time window"), periodEnum...),
			},
		},
	},
	ModuleSchedule: {
		{
			Name:        "create_schedule",
			Description: "Create a calendar event.",
			Params: []provider.Param{
				required(str("title", "Event title")),
				str("start_time", "Start as YYYY-MM-DD HH:mm"),
				str("end_time", "End as YYYY-MM-DD HH:mm"),
				str("location", "Where the event takes place"),
				str("description", "Extra details"),
			},
		},
		{
			Name:        "update_schedule",
			Description: "Change an existing event. Identify it by id or by its current title.",
			Params: []provider.Param{
				str("schedule_id", "Id of the event to change"),
				str("title", "Current title of the event to change"),
				str("new_title", "New title"),
				str("start_time", "New start as YYYY-MM-DD HH:mm"),
				str("end_time", "New end as YYYY-MM-DD HH:mm"),
				str("location", "New location"),
				str("description", "New details"),
			},
		},
		{
			Name:        "delete_schedule",
			Description: "Delete an event. Identify it by id or by its title.",
			Params: []provider.Param{
				str("schedule_id", "Id of the event to delete"),
				str("title", "Title of the event to delete"),
			},
		},
		{
			Name:        "view_schedules",
			Description: "List events.",
			Params: []provider.Param{
				enum(str("period", "Time window"), "today", "tomorrow", "this_week", "this_month"),
			},
		},
	},
	ModuleNotes: {
		{
			Name:        "create_note",
			Description: "Save a new note.",
			Params: []provider.Param{
				str("title", "Note title"),
				required(str("content", "Note body")),
				tags("Tags for the note"),
			},
		},
		{
			Name:        "update_note",
			Description: "Change an existing note. Identify it by id or by its current title.",
			Params: []provider.Param{
				str("note_id", "Id of the note to change"),
				str("title", "Current title of the note to change"),
				str("new_title", "New title"),
				str("content", "New body"),
				tags("New tags"),
			},
		},
		{
			Name:        "delete_note",
			Description: "Delete a note. Identify it by id or by its title.",
			Params: []provider.Param{
				str("note_id", "Id of the note to delete"),
				str("title", "Title of the note to delete"),
			},
		},
		{
			Name:        "view_notes",
			Description: "List or search notes.",
			Params: []provider.Param{
				str("search", "Text to look for in title or body"),
				tags("Only notes carrying all of these tags"),
				{Name: "limit", Type: provider.ParamInteger, Description: "Maximum number of rows"},
			},
		},
	},
	ModuleGeneral: {
		{Name: "confirm", Description: "The user confirms the pending action (ya, ok, setuju, simpan)."},
		{Name: "cancel", Description: "The user cancels the pending action (tidak, batal, cancel)."},
		{Name: "greeting", Description: "The user greets the assistant."},
		{
			Name:        "help",
			Description: "The user asks what the assistant can do.",
			Params:      []provider.Param{str("topic", "Module the user asks about")},
		},
	},
}

// CoreDescriptors returns the descriptors of the given core modules followed
// by the general set, which is always included.
func CoreDescriptors(modules ...Module) []Descriptor {
	var out []Descriptor
	for _, m := range modules {
		if m == ModuleGeneral {
			continue
		}
		for _, t := range coreTools[m] {
			out = append(out, Descriptor{Tool: cloneTool(t), Source: string(m)})
		}
	}
	for _, t := range coreTools[ModuleGeneral] {
		out = append(out, Descriptor{Tool: cloneTool(t), Source: string(ModuleGeneral)})
	}
	return out
}

// CoreModuleOf reports which core module defines action.
func CoreModuleOf(action string) (Module, bool) {
	for m, tools := range coreTools {
		for _, t := range tools {
			if t.Name == action {
				return m, true
			}
		}
	}
	return "", false
}

func cloneTool(t provider.Tool) provider.Tool {
	params := make([]provider.Param, len(t.Params))
	copy(params, t.Params)
	t.Params = params
	return t
}
