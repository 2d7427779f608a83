package policyloader

// bundleSchema is the JSON Schema every policy bundle must satisfy before
// the loader will even attempt to decode it.
const bundleSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["version", "name", "policies"],
  "properties": {
    "version": {"type": "string", "minLength": 1},
    "name": {"type": "string", "minLength": 1},
    "policies": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["id", "scope", "strategy"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "name": {"type": "string"},
          "version": {"type": "string"},
          "scope": {"enum": ["global", "agent", "preference"]},
          "strategy": {"enum": ["priority", "weighted", "veto", "consensus"]},
          "agent_names": {"type": "array", "items": {"type": "string"}},
          "preference_keys": {"type": "array", "items": {"type": "string"}},
          "priority_order": {"type": "array", "items": {"type": "string"}},
          "is_default": {"type": "boolean"},
          "weights": {
            "type": "object",
            "properties": {
              "confidence": {"type": "number"},
              "cost": {"type": "number"},
              "risk": {"type": "number"}
            }
          },
          "veto_rules": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["name"],
              "properties": {
                "name": {"type": "string", "minLength": 1},
                "risk_at_least": {"enum": ["low", "medium", "high"]},
                "cost_above": {"type": "number"},
                "agents": {"type": "array", "items": {"type": "string"}},
                "preference_keys": {"type": "array", "items": {"type": "string"}},
                "condition": {"type": "string"},
                "escalate_on_veto": {"type": "boolean"}
              }
            }
          },
          "escalation": {
            "type": "object",
            "properties": {
              "always_escalate_agents": {"type": "array", "items": {"type": "string"}},
              "multi_agent": {"type": "boolean"},
              "risk_at_least": {"enum": ["low", "medium", "high"]},
              "cost_above": {"type": "number"},
              "confidence_below": {"type": "number"},
              "condition": {"type": "string"}
            }
          }
        }
      }
    }
  }
}`
